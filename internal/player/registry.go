package player

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/lobby"
)

// Registry spawns and resolves player proxies by identity. A proxy is
// created lazily on first contact and lives for the process lifetime, no
// matter how many physical connections come and go.
type Registry struct {
	logger      *slog.Logger
	coordinator *lobby.Lobby

	mu      sync.Mutex
	players map[string]*Proxy
}

func NewRegistry(logger *slog.Logger, coordinator *lobby.Lobby) *Registry {
	return &Registry{
		logger:      logger,
		coordinator: coordinator,
		players:     make(map[string]*Proxy),
	}
}

// GetOrSpawn resolves the proxy for an identity, creating it if this is the
// first contact. The dependency must be the player record; anything else is
// a spawn mismatch, fatal to this creation attempt only.
func (that *Registry) GetOrSpawn(identity string, dependency any) (*Proxy, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if proxy, ok := that.players[identity]; ok {
		return proxy, nil
	}

	info, ok := dependency.(entity.Player)
	if !ok {
		return nil, fmt.Errorf("%w: expected entity.Player, got %T", apperror.ErrSpawnDependencyMismatch, dependency)
	}

	proxy := newProxy(that.logger, info, that.coordinator)
	that.players[identity] = proxy

	that.logger.Info("spawned player proxy", "playerID", identity)

	return proxy, nil
}

// Get returns the proxy for an identity, or nil if never contacted.
func (that *Registry) Get(identity string) *Proxy {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.players[identity]
}
