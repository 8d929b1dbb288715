package relay

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/whisper/internal/metrics"
)

// Conn is one live socket bound to an authenticated identity.
type Conn struct {
	id      string
	userID  string
	ws      *websocket.Conn
	relay   *Relay
	send    chan []byte
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newConn(rl *Relay, ws *websocket.Conn, id, userID string, logger zerolog.Logger) *Conn {
	return &Conn{
		id:      id,
		userID:  userID,
		ws:      ws,
		relay:   rl,
		send:    make(chan []byte, rl.opts.SendQueue),
		limiter: rate.NewLimiter(rl.opts.EventRate, rl.opts.EventBurst),
		logger:  logger,
	}
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// UserID returns the identity the connection authenticated as.
func (c *Conn) UserID() string { return c.userID }

// Deliver queues frame for writing. A full queue drops the frame for this
// connection only.
func (c *Conn) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.DroppedFrames.Inc()
		c.logger.Warn().Msg("send queue full, dropping frame")
		return false
	}
}

// Close sends a going-away close frame and closes the socket. The pumps then
// exit through their normal paths.
func (c *Conn) Close() error {
	deadline := time.Now().Add(c.relay.opts.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	return c.ws.Close()
}

// stop closes the send queue once; later Deliver calls are no-ops.
func (c *Conn) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.relay.release(c)
		c.stop()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("error closing connection in read pump")
		}
		c.relay.wg.Done()
	}()

	opts := c.relay.opts
	c.ws.SetReadLimit(opts.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			metrics.RateLimitHits.WithLabelValues("ws").Inc()
			c.relay.apply(c, []Effect{errorEffect("rate limit exceeded")})
			continue
		}

		c.relay.handle(c, raw)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.relay.opts.PingInterval)
	defer func() {
		ticker.Stop()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("error closing connection in write pump")
		}
		c.relay.wg.Done()
	}()

	wait := c.relay.opts.WriteWait
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug().Err(err).Msg("write failed")
				}
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// logReadError logs why the read loop ended. Ordinary disconnects are not
// errors.
func (c *Conn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.relay.opts.MaxFrameSize).Msg("frame exceeded read limit")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("client closed connection")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Info().Err(err).Msg("unexpected close")
	default:
		c.logger.Debug().Err(err).Msg("read failed")
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
