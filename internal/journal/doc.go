// Package journal persists job snapshots in SQLite so the daemon can recover
// its view of the world after a restart.
//
// The journal is write-through: the job manager saves every state transition
// while holding the job's record lock, and the daemon replays LoadAll into
// jobs.Manager.Restore on startup. The database lives next to the run logs
// (log_dir/jobs.db), uses WAL mode and retries briefly on SQLITE_BUSY.
package journal
