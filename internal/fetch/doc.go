// Package fetch adapts the external media extraction engine (yt-dlp) behind a
// narrow interface used by the job manager.
//
// The package also canonicalises submitted URLs so equivalent short and
// shorts-style links reach the engine in one shape. Engine output is never
// trusted blindly: failures remove whatever partial files the engine left at
// the target path, and stderr is reduced to a short client-safe detail.
package fetch
