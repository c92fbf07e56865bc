// Package platform contains filesystem and external tooling glue: job
// workspaces, artifact lookup, the stale workspace sweeper, cross-process
// workspace locks, source URL normalization and playlist expansion via yt-dlp.
package platform
