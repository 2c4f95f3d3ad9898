// Package jobs tracks media fetch jobs from submission to a terminal state.
//
// Each job is a record in a synchronized map: a read-write mutex guards the
// map itself, and every record carries its own mutex guarding its fields, so
// distinct jobs never contend while reads and writes of one job are
// serialized. Submit only validates the URL, allocates an id and starts one
// background goroutine; the goroutine is the sole writer of the record until
// it reaches ready or failed, at which point the record's done channel is
// closed exactly once.
//
// The retention sweeper interacts with jobs through Reclaim, which deletes an
// artifact while holding the job's record lock so a job can never change
// state halfway through reclamation.
package jobs
