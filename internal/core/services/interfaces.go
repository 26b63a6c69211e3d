package services

import (
	"context"
)

// KeyLocker gives mutual exclusion per key (a donation ID). The returned
// unlock func must be called exactly once.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// EventPublisher sends lifecycle events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}
