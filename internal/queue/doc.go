// Package queue implements the distributed backend: jobs are submitted as
// tasks to a shared broker and executed by a pool of workers, while job
// metadata and control flags live in the lease-backed control store.
//
// Task states follow the broker lifecycle (PENDING, STARTED, PROGRESS,
// SUCCESS, FAILURE, RETRY, REVOKED) plus a dedicated PAUSED state, so a
// user pause is never confused with a failure.
package queue
