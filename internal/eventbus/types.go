package eventbus

import "context"

type Event interface {
	Subject() string
}

// MessageHandler receives the raw payload of a delivered event. Returning an
// error asks for redelivery.
type MessageHandler func(ctx context.Context, subject string, data []byte) error

type EventBus interface {
	Emit(event Event) error
	Close() error
}
