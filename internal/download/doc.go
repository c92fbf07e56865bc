// Package download implements the job lifecycle: the Service exposing
// start/get/list/pause/resume/cancel/delete, the Backend capability set that
// runs jobs, the shared Executor that performs one execution attempt, and the
// embedded backend that runs every job in its own goroutine.
package download
