package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"shuttle/internal/client"
	"shuttle/internal/config"
)

type commandContext struct {
	configFlag *string
	urlFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, urlFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		urlFlag:    urlFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) daemonURL() string {
	if c.urlFlag != nil {
		if v := strings.TrimSpace(*c.urlFlag); v != "" {
			return v
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.DaemonURL()
	}
	return ""
}

func (c *commandContext) apiClient() (*client.Client, error) {
	var opts []client.Option
	if cfg := c.configValue(); cfg != nil && cfg.API.Token != "" {
		opts = append(opts, client.WithToken(cfg.API.Token))
	}
	cl, err := client.New(c.daemonURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return cl, nil
}

// wrapClientError turns transport failures into an actionable hint.
func wrapClientError(err error, url string) error {
	if client.IsAPIUnavailable(err) {
		return fmt.Errorf("connect to daemon at %s: not reachable; start it with `shuttle start` or `shuttle serve`", url)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
