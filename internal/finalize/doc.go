// Package finalize post-processes finished jobs: the artifact is imported
// into the library directory under a new catalog id, a thumbnail is cut
// with ffmpeg, and started/progress/complete/error events are published.
package finalize
