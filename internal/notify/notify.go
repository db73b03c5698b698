// Package notify delivers "this tanda changed" signals from writers to the
// players and live viewers that watch it.
package notify

import (
	"context"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// Publisher announces that a tanda document was written
type Publisher interface {
	Publish(ctx context.Context, key models.TandaKey) error
}

// Subscriber registers onChange for every write to key. onChange runs on a
// goroutine owned by the subscriber, one call at a time per subscription.
// The returned func unsubscribes and never blocks.
type Subscriber interface {
	Subscribe(ctx context.Context, key models.TandaKey, onChange func()) (func(), error)
}

// Notifier is a transport that does both
type Notifier interface {
	Publisher
	Subscriber
	HealthCheck(ctx context.Context) error
	Close() error
}
