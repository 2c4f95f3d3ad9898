// Package api is the HTTP façade over the job manager and artifact store.
//
// It validates job identifiers before any lookup, translates service error
// categories into status codes, and streams finalized artifacts. Response
// payloads use snake_case JSON keys and RFC3339 timestamps with
// milliseconds.
//
// Routes:
//
//	POST /api/jobs                 submit {"url": "..."} -> 202
//	POST /download                 alias of POST /api/jobs
//	GET  /api/jobs                 list tracked jobs, newest first
//	GET  /api/jobs/{id}            job status (alias GET /status/{id})
//	GET  /api/jobs/{id}/artifact   stream the artifact (alias GET /artifact/{id})
//	GET  /health                   liveness, counts, disk and dependencies
//	GET  /metrics                  Prometheus exposition, when enabled
//
// Expired jobs answer 404 on the status routes and 410 on the artifact
// routes; a job that exists but is not ready yet answers 409 on the
// artifact routes.
package api
