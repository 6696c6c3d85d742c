package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DialFunc opens the physical connection. It receives the outbound record
// stream as its reader (to be sent as the request body) and returns the
// inbound record stream.
type DialFunc func(ctx context.Context, outbound io.Reader) (io.ReadCloser, error)

// ClientHandler receives decoded server records.
type ClientHandler[Out any] interface {
	Handle(ctx context.Context, message Out) error
}

// Client is the client half of a duplex channel. Connect is idempotent and
// asynchronous: it opens the stream, immediately sends one heartbeat as a
// liveness primer before any real payload, then keeps sending heartbeats on
// a fixed interval until torn down. Dial and receive errors are swallowed
// into a disconnect; the caller observes channel closure, not an error.
type Client[In Message, Out any] struct {
	logger    *slog.Logger
	dial      DialFunc
	handler   ClientHandler[Out]
	heartbeat func() In
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	outbox chan In
	writer *io.PipeWriter
}

func NewClient[In Message, Out any](
	logger *slog.Logger,
	dial DialFunc,
	handler ClientHandler[Out],
	heartbeat func() In,
	interval time.Duration,
) *Client[In, Out] {
	return &Client[In, Out]{
		logger:    logger.With("component", "stream-client"),
		dial:      dial,
		handler:   handler,
		heartbeat: heartbeat,
		interval:  interval,
	}
}

// Connect opens the channel. No-op if already connecting or connected.
func (that *Client[In, Out]) Connect(ctx context.Context) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	reader, writer := io.Pipe()
	outbox := make(chan In, 64)

	that.cancel = cancel
	that.outbox = outbox
	that.writer = writer

	// The peer only observes the stream once bytes flow, so the primer
	// heartbeat goes out ahead of any payload.
	outbox <- that.heartbeat()

	go that.write(ctx, writer, outbox)
	go that.sendHeartbeats(ctx, outbox)
	go that.run(ctx, reader)
}

// SendMessage enqueues one outbound record without blocking. Records sent on
// a closed or saturated channel are dropped and logged.
func (that *Client[In, Out]) SendMessage(message In) {
	that.mu.Lock()
	outbox := that.outbox
	that.mu.Unlock()

	if outbox == nil {
		that.logger.Debug("dropping message: channel is not connected")
		return
	}

	select {
	case outbox <- message:
	default:
		that.logger.Warn("dropping message: outbox is full")
	}
}

// Disconnect cancels the send loop and the receive loop. Idempotent and safe
// to call from a termination callback.
func (that *Client[In, Out]) Disconnect() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.cancel == nil {
		return
	}

	that.cancel()
	that.cancel = nil
	that.outbox = nil

	_ = that.writer.Close()
	that.writer = nil
}

// IsConnecting reports whether the channel is currently connecting or
// connected.
func (that *Client[In, Out]) IsConnecting() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.cancel != nil
}

func (that *Client[In, Out]) run(ctx context.Context, outbound *io.PipeReader) {
	defer that.Disconnect()

	inbound, err := that.dial(ctx, outbound)
	if err != nil {
		that.logger.Error("failed to connect", "error", err)
		return
	}
	defer inbound.Close()

	log := that.logger.With("method", "listen")

	scanner := bufio.NewScanner(inbound)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var message Out
		if err = json.Unmarshal(line, &message); err != nil {
			log.Error("failed to unmarshal message", "error", err)
			continue
		}

		if err = that.handler.Handle(ctx, message); err != nil {
			log.Error("failed to handle message", "error", err)
		}
	}
}

func (that *Client[In, Out]) write(ctx context.Context, writer *io.PipeWriter, outbox <-chan In) {
	encoder := json.NewEncoder(writer)

	for {
		select {
		case <-ctx.Done():
			_ = writer.Close()
			return
		case message := <-outbox:
			if err := encoder.Encode(message); err != nil {
				that.logger.Error("failed to write message", "error", err)
				that.Disconnect()
				return
			}
		}
	}
}

func (that *Client[In, Out]) sendHeartbeats(ctx context.Context, outbox chan<- In) {
	ticker := time.NewTicker(that.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case outbox <- that.heartbeat():
			default:
			}
		}
	}
}
