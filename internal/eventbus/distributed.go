package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/events"
)

// DistributedEventBus publishes audit events to a NATS JetStream stream.
type DistributedEventBus struct {
	ctx           context.Context
	nats          *nats.Conn
	jetStream     nats.JetStreamContext
	subscriptions []*nats.Subscription
}

var _ EventBus = (*DistributedEventBus)(nil)

func NewDistributedEventBus(ctx context.Context, natsURL string) (*DistributedEventBus, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("azure-deployer"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Print(ctx, log.KV{K: "msg", V: "NATS disconnected"}, log.KV{K: "err", V: err})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Print(ctx, log.KV{K: "msg", V: "NATS reconnected"}, log.KV{K: "url", V: nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	deb := &DistributedEventBus{
		ctx:       ctx,
		nats:      nc,
		jetStream: js,
	}
	if err := deb.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Print(ctx, log.KV{K: "msg", V: "connected to NATS"}, log.KV{K: "url", V: natsURL})
	return deb, nil
}

func (deb *DistributedEventBus) ensureStream() error {
	if _, err := deb.jetStream.StreamInfo(events.StreamName); err == nil {
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:       events.StreamName,
		Subjects:   []string{events.SubjectAll},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
		MaxAge:     24 * time.Hour,
	}
	if _, err := deb.jetStream.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", events.StreamName, err)
	}
	log.Print(deb.ctx, log.KV{K: "msg", V: "created JetStream stream"}, log.KV{K: "stream", V: events.StreamName})
	return nil
}

func (deb *DistributedEventBus) Emit(event Event) error {
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := deb.jetStream.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", subject, err)
	}

	log.Debug(deb.ctx, log.KV{K: "msg", V: "event emitted"}, log.KV{K: "subject", V: subject})
	return nil
}

// Subscribe delivers events matching subject to handler through a durable
// consumer, so a restarted subscriber resumes where it stopped.
func (deb *DistributedEventBus) Subscribe(ctx context.Context, subject, durable string, handler MessageHandler) error {
	sub, err := deb.jetStream.Subscribe(subject,
		func(msg *nats.Msg) {
			if err := handler(ctx, msg.Subject, msg.Data); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "event handler failed"}, log.KV{K: "subject", V: msg.Subject})
				msg.Nak()
				return
			}
			msg.Ack()
		},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	deb.subscriptions = append(deb.subscriptions, sub)

	log.Print(ctx, log.KV{K: "msg", V: "subscribed"}, log.KV{K: "subject", V: subject}, log.KV{K: "durable", V: durable})
	return nil
}

func (deb *DistributedEventBus) Close() error {
	for _, sub := range deb.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Error(deb.ctx, err, log.KV{K: "msg", V: "error unsubscribing"})
		}
	}

	if deb.nats != nil {
		deb.nats.Close()
	}

	log.Print(deb.ctx, log.KV{K: "msg", V: "event bus closed"})
	return nil
}

func (deb *DistributedEventBus) IsConnected() bool {
	return deb.nats != nil && deb.nats.IsConnected()
}

func (deb *DistributedEventBus) Status() string {
	if deb.nats == nil {
		return "Not initialized"
	}
	if deb.nats.IsConnected() {
		return fmt.Sprintf("Connected to %s", deb.nats.ConnectedUrl())
	}
	return "Disconnected"
}
