package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names on the wire.
const (
	EventMessageSend     = "message:send"
	EventMessageReceiver = "message:receiver"
	EventMessageSender   = "message:sender"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventError           = "error"
)

// MaxMessageLength is the longest accepted message body in bytes.
const MaxMessageLength = 8192

// Frame is the envelope of every socket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a validated inbound client event.
type Event interface {
	Name() string
}

// SendMessage asks the relay to persist and deliver a direct message.
type SendMessage struct {
	Body     string
	Receiver string
}

// TypingStarted tells Receiver that the sender began typing.
type TypingStarted struct {
	Receiver string
}

// TypingStopped tells Receiver that the sender stopped typing.
type TypingStopped struct {
	Receiver string
}

func (SendMessage) Name() string   { return EventMessageSend }
func (TypingStarted) Name() string { return EventTypingStart }
func (TypingStopped) Name() string { return EventTypingStop }

type sendPayload struct {
	Message  string `json:"message"`
	Receiver string `json:"receiver"`
}

type typingPayload struct {
	Receiver string `json:"receiver"`
}

// TypingNotice is delivered to the receiver of a typing event.
type TypingNotice struct {
	Sender string `json:"sender"`
}

// ErrorNotice is delivered to a connection whose event failed.
type ErrorNotice struct {
	Message string `json:"message"`
}

// ValidationError is returned for frames that cannot become an Event. Its
// message is safe to send back to the client.
type ValidationError struct {
	Event   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParseEvent decodes and validates a raw inbound frame.
func ParseEvent(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, invalid("invalid frame")
	}

	ev, err := parseFrame(f)
	if ve, ok := err.(*ValidationError); ok {
		ve.Event = f.Event
	}
	return ev, err
}

func parseFrame(f Frame) (Event, error) {
	switch f.Event {
	case EventMessageSend:
		var p sendPayload
		if err := decodeData(f.Data, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Message) == "" {
			return nil, invalid("message is required")
		}
		if len(p.Message) > MaxMessageLength {
			return nil, invalid("message too long (max %d bytes)", MaxMessageLength)
		}
		if strings.TrimSpace(p.Receiver) == "" {
			return nil, invalid("receiver is required")
		}
		return SendMessage{Body: p.Message, Receiver: p.Receiver}, nil

	case EventTypingStart, EventTypingStop:
		var p typingPayload
		if err := decodeData(f.Data, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Receiver) == "" {
			return nil, invalid("receiver is required")
		}
		if f.Event == EventTypingStart {
			return TypingStarted{Receiver: p.Receiver}, nil
		}
		return TypingStopped{Receiver: p.Receiver}, nil

	case "":
		return nil, invalid("event is required")
	default:
		return nil, invalid("unknown event: %s", f.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return invalid("data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("invalid data")
	}
	return nil
}

// encodeFrame builds an outbound frame.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
