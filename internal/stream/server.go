package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const maxLineSize = 1 << 20

// Handler receives decoded payload messages from a server channel and the
// single disconnect notice when the channel tears down.
type Handler[In Message, Out any] interface {
	Handle(ctx context.Context, message In) error
	Disconnected(channel *Server[In, Out])
}

// Server is the server half of a duplex channel: it reads newline-delimited
// JSON records of type In from the peer and writes records of type Out back.
// Every inbound record, heartbeats included, resets the liveness clock; a
// peer silent for longer than the timeout is force-disconnected. The handler
// is notified exactly once, after which no further callbacks occur.
type Server[In Message, Out any] struct {
	logger  *slog.Logger
	timeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu            sync.Mutex
	handler       Handler[In, Out]
	lastMessageAt time.Time

	writeMu sync.Mutex
	encoder *json.Encoder
}

func NewServer[In Message, Out any](
	ctx context.Context,
	logger *slog.Logger,
	input io.Reader,
	output io.Writer,
	handler Handler[In, Out],
	timeout time.Duration,
) *Server[In, Out] {
	ctx, cancel := context.WithCancel(ctx)

	server := &Server[In, Out]{
		logger:        logger.With("component", "stream-server"),
		timeout:       timeout,
		cancel:        cancel,
		done:          make(chan struct{}),
		handler:       handler,
		lastMessageAt: time.Now(),
		encoder:       json.NewEncoder(output),
	}

	go server.listen(ctx, input)
	go server.checkLiveness(ctx)

	return server
}

// SendMessage writes one JSONL record to the peer.
func (that *Server[In, Out]) SendMessage(message Out) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if err := that.encoder.Encode(message); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return nil
}

// Disconnect tears the channel down. Idempotent; the listener and liveness
// tasks are cancelled together and the handler hears about it exactly once.
func (that *Server[In, Out]) Disconnect() {
	that.once.Do(func() {
		that.cancel()
		close(that.done)

		that.mu.Lock()
		handler := that.handler
		that.handler = nil
		that.mu.Unlock()

		if handler != nil {
			handler.Disconnected(that)
		}
	})
}

// Done is closed once the channel has been torn down.
func (that *Server[In, Out]) Done() <-chan struct{} {
	return that.done
}

func (that *Server[In, Out]) listen(ctx context.Context, input io.Reader) {
	defer that.Disconnect()

	log := that.logger.With("method", "listen")

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var message In
		if err := json.Unmarshal(line, &message); err != nil {
			log.Error("failed to unmarshal message", "error", err)
			continue
		}

		that.touch()

		if message.IsHeartbeat() {
			continue
		}

		that.mu.Lock()
		handler := that.handler
		that.mu.Unlock()

		if handler == nil {
			return
		}

		if err := handler.Handle(ctx, message); err != nil {
			log.Error("failed to handle message", "error", err)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && ctx.Err() == nil {
		log.Error("error reading from peer", "error", err)
	}
}

func (that *Server[In, Out]) checkLiveness(ctx context.Context) {
	ticker := time.NewTicker(that.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			that.mu.Lock()
			elapsed := time.Since(that.lastMessageAt)
			that.mu.Unlock()

			if elapsed > that.timeout {
				that.logger.Info("peer silent past timeout, disconnecting", "elapsed", elapsed)
				that.Disconnect()
				return
			}
		}
	}
}

func (that *Server[In, Out]) touch() {
	that.mu.Lock()
	that.lastMessageAt = time.Now()
	that.mu.Unlock()
}
