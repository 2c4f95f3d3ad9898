// Package artifact owns the directory where downloaded media lives.
//
// Files are written into a per-job staging directory (root/.staging/<id>/)
// and only become visible to readers after Finalize renames them to
// root/<id>.mp4. A reader that can open root/<id>.mp4 therefore always sees a
// complete, non-empty file. Artifact modification time is the sole staleness
// signal used by the retention sweeper.
package artifact
