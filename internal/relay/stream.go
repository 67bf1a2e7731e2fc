// Package relay subscribes to the domain event stream and turns every event
// into an audit record without ever letting a persistence failure propagate
// back to the event source.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Default values for WebSocket reconnection configuration.
const (
	DefaultBaseDelay        = 100 * time.Millisecond
	DefaultMaxDelay         = 30 * time.Second
	DefaultJitterFactor     = 0.5 // 50% jitter
	DefaultMaxRetryAttempts = 5   // Max retry attempts before alerting
)

// Stream configuration errors.
var (
	ErrEmptyURL        = errors.New("event stream URL cannot be empty")
	ErrInvalidDelay    = errors.New("base delay must be positive")
	ErrInvalidMaxDelay = errors.New("max delay must be >= base delay")
	ErrInvalidJitter   = errors.New("jitter factor must be between 0 and 1")
)

// FrameHandler is a callback for each incoming stream frame. The handler
// receives the WebSocket message type and payload. Returning an error signals
// the stream to disconnect; the relay's handler never does.
type FrameHandler func(messageType int, payload []byte) error

// StreamConfig holds configuration for the event stream client.
type StreamConfig struct {
	// URL is the event stream WebSocket endpoint.
	URL string

	// BaseDelay is the initial delay before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between reconnect attempts.
	MaxDelay time.Duration

	// JitterFactor is the fraction of delay to randomize (0.0 to 1.0).
	JitterFactor float64

	// MaxRetryAttempts is how many consecutive reconnect attempts are made
	// before an alert-level log. 0 disables the limit.
	MaxRetryAttempts int64
}

// DefaultStreamConfig returns a StreamConfig with default reconnect behavior.
// The URL must be provided by the caller.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:              url,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		JitterFactor:     DefaultJitterFactor,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
	}
}

// Validate checks that the configuration is valid.
func (c StreamConfig) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	return nil
}

// Stream is a resilient WebSocket client for the domain event stream. It
// automatically reconnects with exponential backoff and jitter, and holds the
// subscription for the lifetime of the process.
type Stream struct {
	config  StreamConfig
	handler FrameHandler
	logger  *slog.Logger

	mu          sync.Mutex
	rng         *rand.Rand // protected by mu
	conn        *websocket.Conn
	isConnected bool

	// reconnectCount tracks consecutive reconnection attempts (atomic)
	reconnectCount int64
}

// NewStream creates a new event stream client. The handler is called for each
// incoming frame.
func NewStream(config StreamConfig, handler FrameHandler, logger *slog.Logger) (*Stream, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		config:  config,
		handler: handler,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run starts the stream client and blocks until the context is cancelled.
// Connection failures trigger automatic reconnects with backoff.
func (s *Stream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event stream stopping due to context cancellation")
			s.close()
			return ctx.Err()
		default:
		}

		if err := s.connect(ctx); err != nil {
			attempt := atomic.LoadInt64(&s.reconnectCount) + 1
			s.logger.Warn("event stream connection failed",
				slog.String("error", err.Error()),
				slog.Int64("attempt", attempt))

			if s.config.MaxRetryAttempts > 0 && attempt >= s.config.MaxRetryAttempts {
				s.logger.Error("event stream reconnect attempts exhausted, continuing with max backoff",
					slog.Int64("attempts", attempt))
			}

			delay := s.computeBackoff()
			atomic.AddInt64(&s.reconnectCount, 1)

			s.logger.Info("scheduling reconnect",
				slog.Duration("delay", delay),
				slog.Int64("attempt", atomic.LoadInt64(&s.reconnectCount)))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		// Reset reconnect count on successful connection
		atomic.StoreInt64(&s.reconnectCount, 0)

		// Read frames until the connection closes
		s.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection to the stream endpoint.
func (s *Stream) connect(ctx context.Context) error {
	s.logger.Info("connecting to event stream", slog.String("url", s.config.URL))

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.isConnected = true
	s.mu.Unlock()

	s.logger.Info("connected to event stream")
	return nil
}

// readLoop reads frames from the connection until it closes.
func (s *Stream) readLoop(ctx context.Context) {
	// ReadMessage blocks, so a cancelled context must close the connection
	// out from under it to unblock the loop.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-watchDone:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Get connection under lock to prevent race with close()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}

		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("event stream connection closed",
				slog.String("error", err.Error()))
			s.close()
			return
		}

		if s.handler != nil {
			if err := s.handler(messageType, payload); err != nil {
				s.logger.Error("frame handler error",
					slog.String("error", err.Error()))
				s.close()
				return
			}
		}
	}
}

// close cleanly closes the WebSocket connection, releasing the subscription.
func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.isConnected = false
}

// computeBackoff calculates the next reconnection delay with exponential
// backoff and jitter.
func (s *Stream) computeBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Exponential backoff: baseDelay * 2^attempts, shift capped to prevent
	// overflow.
	reconnectCount := atomic.LoadInt64(&s.reconnectCount)
	shift := uint(reconnectCount)
	if shift > 30 {
		shift = 30
	}
	backoff := float64(s.config.BaseDelay) * float64(uint64(1)<<shift)

	if backoff > float64(s.config.MaxDelay) {
		backoff = float64(s.config.MaxDelay)
	}

	// Jitter spreads reconnects across [delay*(1-j/2), delay*(1+j/2)].
	if s.config.JitterFactor > 0 {
		jitter := (s.rng.Float64() - 0.5) * s.config.JitterFactor
		backoff = backoff * (1 + jitter)
	}

	return time.Duration(backoff)
}

// IsConnected returns whether the client is currently connected.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnected
}
