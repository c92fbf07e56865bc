package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ytget/ytjobs/internal/model"
)

// Channel is the name of the shared notification channel
const Channel = "library_upload_events"

// Publisher emits notification messages
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Encode renders an event as the wire message
func Encode(ev model.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return data, nil
}

// Multi publishes to every publisher and returns the first error
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, ev model.Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
