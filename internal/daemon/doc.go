// Package daemon coordinates the long-running Shuttle process.
//
// It wires configuration, the artifact store, the job journal, the job
// manager, the retention sweeper and the HTTP façade into a single lifecycle.
// The artifact store's flock guards against two processes sharing one store
// directory. Start restores journalled jobs before the façade begins
// listening; Stop drains the façade first, then the sweeper, then running
// jobs.
//
// Keep orchestration logic here: job semantics live in internal/jobs and
// request handling in internal/api.
package daemon
