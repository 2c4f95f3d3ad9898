// Package sweeper reclaims artifacts whose retention lifetime has elapsed.
//
// A sweep lists the artifact store, asks the job manager to reclaim each
// stale entry under that job's record lock, deletes orphans that no job
// knows about, and finally prunes old failed records and tombstones from the
// manager. Sweep is synchronous so tests and the offline `shuttle sweep`
// command can drive it directly; Start/Stop wrap it in a ticker loop.
package sweeper
