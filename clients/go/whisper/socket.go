package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Socket event names.
const (
	EventMessageSend     = "message:send"
	EventMessageReceiver = "message:receiver"
	EventMessageSender   = "message:sender"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventError           = "error"
)

// Event is one frame received from the relay.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message decodes a message:receiver or message:sender event.
func (e Event) Message() (*Message, error) {
	var m Message
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Sender returns the sender of a typing event.
func (e Event) Sender() string {
	var v struct {
		Sender string `json:"sender"`
	}
	_ = json.Unmarshal(e.Data, &v)
	return v.Sender
}

// ErrorMessage returns the text of an error event.
func (e Event) ErrorMessage() string {
	var v struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(e.Data, &v)
	return v.Message
}

// Socket is a live relay connection.
type Socket struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

// Dial opens a relay connection using the client's session cookie.
func (c *Client) Dial(ctx context.Context) (*Socket, error) {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws"

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.HTTPClient.Timeout,
		Jar:              c.HTTPClient.Jar,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var body struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return nil, &APIError{Status: resp.StatusCode, Message: body.Error}
		}
		return nil, err
	}
	resp.Body.Close()
	return &Socket{conn: conn}, nil
}

func (s *Socket) emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(Event{Name: event, Data: raw})
}

// Send sends a direct message to receiver.
func (s *Socket) Send(receiver, body string) error {
	return s.emit(EventMessageSend, map[string]string{"message": body, "receiver": receiver})
}

// Typing reports that the user started or stopped typing to receiver.
func (s *Socket) Typing(receiver string, typing bool) error {
	event := EventTypingStop
	if typing {
		event = EventTypingStart
	}
	return s.emit(event, map[string]string{"receiver": receiver})
}

// Next blocks until the next event arrives.
func (s *Socket) Next() (Event, error) {
	var ev Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Close closes the connection cleanly.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
