// Package model defines the domain data structures shared across the service:
// transfer jobs, their status machine, execution outcomes, control signals,
// notification events and playlist entities. Job values are plain data and are
// copied out of registries so callers never observe concurrent mutation.
package model
