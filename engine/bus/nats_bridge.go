package bus

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/r3e-labs/docbackbone/pkg/natsutil"
)

// wireEvent is Event's JSON-serializable shape. Payload travels as a
// separately-marshaled any, which natsutil.Subscribe[T]'s json.Unmarshal
// leaves as a map[string]any on the receiving side — fine for the
// cross-process notification use case the bridge serves, since subscribers
// across the wire don't share the publisher's Go types.
type wireEvent struct {
	Type          EventType   `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	Payload       any         `json:"payload"`
	OccurredAtUTC string      `json:"occurred_at"`
}

const subjectPrefix = "docbackbone.events."

func subjectFor(t EventType) string {
	return subjectPrefix + string(t)
}

// NATSBridge relays events between an in-process Bus and a NATS subject
// space, giving other processes (and other backbone instances) a view of
// this instance's event stream without coupling them to the in-process
// queue/middleware machinery.
type NATSBridge struct {
	nc     *nats.Conn
	bus    *Bus
	logger *slog.Logger
	subs   []*nats.Subscription
}

// NewNATSBridge constructs a bridge over an already-connected NATS client.
func NewNATSBridge(nc *nats.Conn, b *Bus, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{nc: nc, bus: b, logger: logger}
}

// PublishOut forwards e to NATS under its type's subject. Intended to be
// registered as a Bus subscriber (ModeParallel) for every outbound event
// type the deployment wants externally visible.
func (nb *NATSBridge) PublishOut(ctx context.Context, e Event) error {
	return natsutil.Publish(ctx, nb.nc, subjectFor(e.Type), wireEvent{
		Type:          e.Type,
		CorrelationID: e.CorrelationID.String(),
		Payload:       e.Payload,
		OccurredAtUTC: e.OccurredAt.Format("2006-01-02T15:04:05.000000000Z07:00"),
	})
}

// SubscribeIn subscribes to t's subject on NATS and republishes every
// message onto the local bus, bridging events published by other
// instances into this process.
func (nb *NATSBridge) SubscribeIn(t EventType) error {
	sub, err := natsutil.Subscribe[wireEvent](nb.nc, subjectFor(t), func(ctx context.Context, w wireEvent) {
		correlationID, err := parseUUIDLoose(w.CorrelationID)
		if err != nil {
			nb.logger.Warn("dropping inbound event with unparseable correlation id", "event", t, "error", err)
			return
		}
		if err := nb.bus.Publish(ctx, Event{Type: w.Type, CorrelationID: correlationID, Payload: w.Payload}); err != nil {
			nb.logger.Warn("local publish of bridged event failed", "event", t, "error", err)
		}
	})
	if err != nil {
		return err
	}
	nb.subs = append(nb.subs, sub)
	return nil
}

// Close unsubscribes every inbound NATS subscription created by SubscribeIn.
func (nb *NATSBridge) Close() error {
	for _, sub := range nb.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	return nil
}
