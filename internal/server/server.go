package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/player"
	"github.com/akbashev/tictacfish-backend/internal/stream"
)

var errTeamUnknown = errors.New("unknown player team")

// Server exposes the two streaming endpoints. A client opens a request with
// identity headers and a JSONL request body; the response body is the
// server-to-client half of the channel.
type Server struct {
	logger           *slog.Logger
	registry         *player.Registry
	heartbeatTimeout time.Duration
}

func New(logger *slog.Logger, registry *player.Registry, heartbeatTimeout time.Duration) *Server {
	return &Server{
		logger:           logger.With("component", "server"),
		registry:         registry,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (that *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Post("/lobby", that.handleConnectToLobby)
	router.Post("/session", that.handleJoinGameSession)

	return router
}

// Start runs the HTTP server until the context is cancelled.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) handleConnectToLobby(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "handleConnectToLobby")

	proxy, ok := that.resolveProxy(writer, req)
	if !ok {
		return
	}

	flusher, ok := writer.(http.Flusher)
	if !ok {
		log.Error("response writer does not support streaming")
		http.Error(writer, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// HTTP/1.1 may stop reading the request body once the response starts
	// unless full duplex is enabled explicitly.
	if err := http.NewResponseController(writer).EnableFullDuplex(); err != nil {
		log.Debug("full duplex unavailable", "error", err)
	}

	channel := stream.NewServer(
		req.Context(),
		that.logger,
		req.Body,
		flushWriter{writer: writer, flusher: flusher},
		proxy.LobbyHandler(),
		that.heartbeatTimeout,
	)

	if err := proxy.ConnectLobby(channel); err != nil {
		channel.Disconnect()
		if errors.Is(err, apperror.ErrChannelOccupied) {
			http.Error(writer, "lobby channel already attached", http.StatusConflict)
			return
		}
		http.Error(writer, "failed to attach channel", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/jsonl")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	that.serveChannel(req, channel.Done(), channel.Disconnect)
}

func (that *Server) handleJoinGameSession(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "handleJoinGameSession")

	proxy, ok := that.resolveProxy(writer, req)
	if !ok {
		return
	}

	flusher, ok := writer.(http.Flusher)
	if !ok {
		log.Error("response writer does not support streaming")
		http.Error(writer, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if err := http.NewResponseController(writer).EnableFullDuplex(); err != nil {
		log.Debug("full duplex unavailable", "error", err)
	}

	channel := stream.NewServer(
		req.Context(),
		that.logger,
		req.Body,
		flushWriter{writer: writer, flusher: flusher},
		proxy.SessionHandler(),
		that.heartbeatTimeout,
	)

	if err := proxy.ConnectSession(channel); err != nil {
		channel.Disconnect()
		if errors.Is(err, apperror.ErrChannelOccupied) {
			http.Error(writer, "session channel already attached", http.StatusConflict)
			return
		}
		http.Error(writer, "failed to attach channel", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/jsonl")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	that.serveChannel(req, channel.Done(), channel.Disconnect)
}

// serveChannel keeps the handler alive until the channel tears down or the
// client goes away, whichever comes first.
func (that *Server) serveChannel(req *http.Request, done <-chan struct{}, disconnect func()) {
	select {
	case <-done:
	case <-req.Context().Done():
		disconnect()
	}
}

func (that *Server) resolveProxy(writer http.ResponseWriter, req *http.Request) (*player.Proxy, bool) {
	log := that.logger.With("method", "resolveProxy")

	info, err := playerFromHeaders(req)
	if err != nil {
		log.Error("bad handshake headers", "error", err)
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	proxy, err := that.registry.GetOrSpawn(info.PlayerID, info)
	if err != nil {
		log.Error("failed to resolve player proxy", "error", err)
		http.Error(writer, "failed to resolve player", http.StatusInternalServerError)
		return nil, false
	}

	return proxy, true
}

func playerFromHeaders(req *http.Request) (entity.Player, error) {
	playerID := req.Header.Get("playerId")
	if playerID == "" {
		return entity.Player{}, errors.New("playerId header is required")
	}

	team := entity.Team(req.Header.Get("playerTeam"))
	if team != entity.TeamA && team != entity.TeamB {
		return entity.Player{}, fmt.Errorf("%w: %q", errTeamUnknown, team)
	}

	return entity.Player{
		PlayerID: playerID,
		Name:     req.Header.Get("playerName"),
		Team:     team,
	}, nil
}

// flushWriter flushes after every write so records reach the peer as they
// are produced, not when the buffer fills.
type flushWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func (that flushWriter) Write(p []byte) (int, error) {
	n, err := that.writer.Write(p)
	that.flusher.Flush()
	return n, err
}
