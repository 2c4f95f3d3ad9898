// Package preflight provides readiness checks for the filesystem paths and
// external services Shuttle depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start; the health endpoint and `shuttle health` reuse DiskFree and
// CheckSystemDeps.
package preflight
