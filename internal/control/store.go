package control

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the retention window of a job's control entries
const DefaultTTL = 24 * time.Hour

// Key layout
const (
	metaKeyPrefix = "job:"
	pauseSuffix   = ":pause"
	cancelSuffix  = ":cancel"
	// IndexPrefix renders the aggregate "jobs:all" set as one key per id
	IndexPrefix = "jobs:all/"
)

// ErrNotFound is returned for unknown or expired jobs
var ErrNotFound = errors.New("control entry not found")

// Flag is a presence-only control signal
type Flag string

const (
	FlagPause  Flag = "pause"
	FlagCancel Flag = "cancel"
)

// Meta is the shared metadata of a job
type Meta struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	FormatString string    `json:"format_string"`
	Title        string    `json:"title,omitempty"`
	Ext          string    `json:"ext,omitempty"`
	Workspace    string    `json:"workspace"`
	TaskID       string    `json:"task_id"`
	PausedDir    string    `json:"paused_tmpdir,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the lease-backed control store
type Store interface {
	// Create grants a new lease and stores the metadata and index entry under it.
	Create(ctx context.Context, meta Meta) error
	Meta(ctx context.Context, id string) (Meta, error)
	UpdateMeta(ctx context.Context, meta Meta) error
	List(ctx context.Context) ([]string, error)

	SetFlag(ctx context.Context, id string, flag Flag) error
	ClearFlags(ctx context.Context, id string) error
	// Flags returns the pause and cancel flags of a job.
	Flags(ctx context.Context, id string) (pause, cancel bool, err error)
	// WatchFlag returns a channel closed once the flag is present.
	WatchFlag(ctx context.Context, id string, flag Flag) (<-chan struct{}, error)

	// Renew restarts the TTL of every key of the job.
	Renew(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MetaKey returns the metadata key of a job
func MetaKey(id string) string { return metaKeyPrefix + id }

// FlagKey returns the key of a control flag
func FlagKey(id string, flag Flag) string {
	if flag == FlagPause {
		return metaKeyPrefix + id + pauseSuffix
	}
	return metaKeyPrefix + id + cancelSuffix
}

// IndexKey returns the aggregate index entry of a job
func IndexKey(id string) string { return IndexPrefix + id }
