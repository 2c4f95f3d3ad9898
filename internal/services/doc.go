// Package services defines shared utilities consumed by the job manager, the
// fetch adapters and the HTTP facade.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, component names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the categories the facade maps onto HTTP status codes.
//   - PublicMessage and Sanitize, which turn internal failures into short,
//     path-free text safe to hand back to API clients.
//   - CommandRunner, the seam that makes external tools (yt-dlp, ffmpeg,
//     ffprobe) replaceable in tests.
package services
