// Package progress turns transfer engine reports into job record updates.
// Every report is a checkpoint: pending pause or cancel signals are observed
// first and unwind the transfer; otherwise the latest metrics replace the
// previous ones. After a successful transfer the artifact on disk is the
// authority for the final byte counts.
package progress
