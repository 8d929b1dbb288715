// Package relay authenticates socket connections, groups them into one channel
// per identity and relays direct messages and typing indicators between them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/whisper/internal/crypto"
	"github.com/eldtechnologies/whisper/internal/metrics"
)

// Authenticator resolves the identity behind a connection attempt.
type Authenticator interface {
	Resolve(r *http.Request) (string, bool)
}

// Presence is told about every connection that opens and closes.
type Presence interface {
	Connected(ctx context.Context, userID string)
	Disconnected(ctx context.Context, userID string)
}

// Options holds per-connection limits.
type Options struct {
	AllowedOrigins []string
	MaxFrameSize   int64
	SendQueue      int
	EventRate      rate.Limit
	EventBurst     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

// maxFrameSize fits a maximum-length body even when every byte arrives
// JSON-escaped as \u00XX, plus room for the envelope.
const maxFrameSize = 6*MaxMessageLength + 1<<10

// DefaultOptions returns the limits used in production.
func DefaultOptions() Options {
	return Options{
		MaxFrameSize: maxFrameSize,
		SendQueue:    256,
		EventRate:    10,
		EventBurst:   20,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

// Relay serves the socket endpoint.
type Relay struct {
	auth       Authenticator
	dispatcher *Dispatcher
	channels   *Registry
	presence   Presence
	logger     zerolog.Logger
	opts       Options
	upgrader   websocket.Upgrader

	// ctx outlives individual connections so an in-flight send can still
	// reach its receiver after the sender disconnects.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders admission against Shutdown: a connection is either joined
	// before the shutdown snapshot or sees draining and is turned away.
	mu       sync.Mutex
	draining atomic.Bool
}

// New creates a relay. Zero-valued limits in opts fall back to DefaultOptions.
func New(auth Authenticator, store MessageStore, presence Presence, logger zerolog.Logger, opts Options) *Relay {
	opts = withDefaults(opts)
	ctx, cancel := context.WithCancel(context.Background())

	rl := &Relay{
		auth:       auth,
		dispatcher: NewDispatcher(store, logger),
		channels:   NewRegistry(),
		presence:   presence,
		logger:     logger,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
	}
	rl.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(opts.AllowedOrigins, logger).check,
	}
	return rl
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = def.MaxFrameSize
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}
	if opts.EventRate <= 0 {
		opts.EventRate = def.EventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = def.EventBurst
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	return opts
}

// Channels exposes the channel registry.
func (rl *Relay) Channels() *Registry {
	return rl.channels
}

// ServeHTTP authenticates the request and upgrades it to a socket.
// Unauthenticated requests are rejected before the upgrade.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rl.draining.Load() {
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	userID, ok := rl.auth.Resolve(r)
	if !ok {
		metrics.SocketAuthFailures.Inc()
		rl.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("socket authentication failed")
		writeJSONError(w, http.StatusUnauthorized, "authentication error")
		return
	}

	ws, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		rl.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("socket upgrade failed")
		return
	}

	id := crypto.NewULID()
	logger := rl.logger.With().
		Str("conn_id", id).
		Str("user_id", userID).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	rl.admit(newConn(rl, ws, id, userID, logger))
}

func (rl *Relay) admit(c *Conn) {
	rl.mu.Lock()
	if rl.draining.Load() {
		rl.mu.Unlock()
		c.logger.Debug().Msg("socket upgraded during shutdown, closing")
		_ = c.Close()
		return
	}
	members := rl.channels.Join(c)
	rl.wg.Add(2)
	rl.mu.Unlock()

	rl.presence.Connected(rl.ctx, c.userID)
	metrics.ActiveConnections.Inc()
	c.logger.Info().Int("channel_size", members).Msg("socket connected")

	go c.writePump()
	go c.readPump()
}

func (rl *Relay) release(c *Conn) {
	remaining := rl.channels.Leave(c)
	rl.presence.Disconnected(context.WithoutCancel(rl.ctx), c.userID)
	metrics.ActiveConnections.Dec()
	c.logger.Info().Int("channel_size", remaining).Msg("socket disconnected")
}

// handle parses one inbound frame and applies the resulting effects.
func (rl *Relay) handle(c *Conn, raw []byte) {
	ev, err := ParseEvent(raw)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Event == EventMessageSend {
			metrics.MessageSendFailures.WithLabelValues("validation").Inc()
		}
		c.logger.Debug().Err(err).Msg("rejected event")
		rl.apply(c, []Effect{errorEffect(err.Error())})
		return
	}

	rl.apply(c, rl.dispatcher.Dispatch(rl.ctx, c.userID, ev))
}

func (rl *Relay) apply(origin *Conn, effects []Effect) {
	for _, e := range effects {
		frame, err := encodeFrame(e.Event, e.Payload)
		if err != nil {
			origin.logger.Error().Err(err).Str("event", e.Event).Msg("failed to encode frame")
			continue
		}

		switch e.Target {
		case ToOrigin:
			origin.Deliver(frame)
		case ToChannel:
			n := rl.channels.Broadcast(e.Channel, frame)
			origin.logger.Debug().
				Str("event", e.Event).
				Str("channel", e.Channel).
				Int("delivered", n).
				Msg("broadcast")
		}
	}
}

// Shutdown stops accepting sockets, closes every live connection and waits
// for their pumps to exit or ctx to expire.
func (rl *Relay) Shutdown(ctx context.Context) error {
	rl.mu.Lock()
	rl.draining.Store(true)
	rl.mu.Unlock()
	defer rl.cancel()

	for _, m := range rl.channels.Members() {
		_ = m.Close()
	}

	done := make(chan struct{})
	go func() {
		rl.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
