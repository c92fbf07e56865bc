// Package control holds cross-process job metadata and control flags for the
// distributed backend. Every key of a job is bound to one lease with an
// explicit TTL; an expired lease makes the job indistinguishable from an
// unknown one. Renew extends the lease of all keys of a job at once.
package control
