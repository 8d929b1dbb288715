package relay

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/whisper/internal/metrics"
	"github.com/eldtechnologies/whisper/internal/models"
)

// MessageStore persists direct messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, sender, receiver, body string) (*models.Message, error)
}

// Target says where an Effect is delivered.
type Target int

const (
	// ToOrigin delivers to the connection that sent the event.
	ToOrigin Target = iota
	// ToChannel delivers to every connection of Effect.Channel.
	ToChannel
)

// Effect is one outbound frame produced by handling an event.
type Effect struct {
	Target  Target
	Channel string
	Event   string
	Payload any
}

// Dispatcher turns validated events into effects.
type Dispatcher struct {
	store  MessageStore
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher persisting through store.
func NewDispatcher(store MessageStore, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logger}
}

// Dispatch handles ev on behalf of sender. Effects are returned in delivery
// order; a message is only broadcast once CreateMessage has returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sender string, ev Event) []Effect {
	switch e := ev.(type) {
	case SendMessage:
		return d.sendMessage(ctx, sender, e)
	case TypingStarted:
		metrics.TypingEvents.WithLabelValues("start").Inc()
		return []Effect{toChannel(e.Receiver, EventTypingStart, TypingNotice{Sender: sender})}
	case TypingStopped:
		metrics.TypingEvents.WithLabelValues("stop").Inc()
		return []Effect{toChannel(e.Receiver, EventTypingStop, TypingNotice{Sender: sender})}
	default:
		return []Effect{errorEffect("unsupported event")}
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, sender string, e SendMessage) []Effect {
	msg, err := d.store.CreateMessage(ctx, sender, e.Receiver, e.Body)
	if err != nil {
		metrics.MessageSendFailures.WithLabelValues("persistence").Inc()
		d.logger.Error().
			Err(err).
			Str("user_id", sender).
			Str("receiver", e.Receiver).
			Msg("failed to persist message")
		return []Effect{errorEffect("Failed to send message")}
	}

	metrics.MessagesSent.Inc()
	return []Effect{
		toChannel(e.Receiver, EventMessageReceiver, msg),
		{Target: ToOrigin, Event: EventMessageSender, Payload: msg},
	}
}

func toChannel(channel, event string, payload any) Effect {
	return Effect{Target: ToChannel, Channel: channel, Event: event, Payload: payload}
}

func errorEffect(message string) Effect {
	return Effect{Target: ToOrigin, Event: EventError, Payload: ErrorNotice{Message: message}}
}
