// Command shuttle is the Shuttle CLI. It runs the daemon in the foreground
// (serve), manages a background instance (start, stop) and talks to a running
// daemon over HTTP to submit URLs, inspect jobs and download artifacts.
// The sweep command works offline against the artifact store.
package main
