package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/akbashev/tictacfish-backend/internal/config"
	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/stream"
)

// Terminal client for the backend. It keeps one lobby channel open, attaches
// a session channel once a match starts, and turns stdin lines into protocol
// messages.
func main() {
	var (
		configPath = flag.String("config", "config.yml", "path to the config file")
		serverURL  = flag.String("server", "http://localhost:8080", "backend base URL")
		playerID   = flag.String("player", "", "player identity (required)")
		name       = flag.String("name", "", "display name")
		team       = flag.String("team", "A", "team, A or B")
	)
	flag.Parse()

	if *playerID == "" {
		fmt.Fprintln(os.Stderr, "-player is required")
		flag.Usage()
		os.Exit(2)
	}

	conf := config.MustLoad(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	info := entity.Player{
		PlayerID: *playerID,
		Name:     *name,
		Team:     entity.Team(*team),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	game := &game{ctx: ctx, me: info}

	game.lobby = stream.NewClient[stream.PlayerLobbyMessage, stream.LobbyMessage](
		logger,
		dial(*serverURL+"/lobby", info),
		lobbyPrinter{game: game},
		func() stream.PlayerLobbyMessage { return stream.PlayerLobbyMessage{Heartbeat: &stream.Heartbeat{}} },
		conf.Game.HeartbeatInterval,
	)
	game.session = stream.NewClient[stream.PlayerSessionMessage, stream.SessionMessage](
		logger,
		dial(*serverURL+"/session", info),
		sessionPrinter{},
		func() stream.PlayerSessionMessage { return stream.PlayerSessionMessage{Heartbeat: &stream.Heartbeat{}} },
		conf.Game.HeartbeatInterval,
	)
	defer game.lobby.Disconnect()
	defer game.session.Disconnect()

	game.lobby.Connect(ctx)
	game.sendStatus(entity.StatusConnect)

	fmt.Println("commands: ready | leave | move <0-8> | quit")
	game.repl(os.Stdin)
}

type game struct {
	ctx context.Context
	me  entity.Player

	lobby   *stream.Client[stream.PlayerLobbyMessage, stream.LobbyMessage]
	session *stream.Client[stream.PlayerSessionMessage, stream.SessionMessage]
}

func (that *game) repl(input io.Reader) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if that.ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "ready":
			that.sendStatus(entity.StatusReady)
		case "leave":
			that.sendStatus(entity.StatusDisconnect)
		case "move":
			if len(fields) < 2 {
				fmt.Println("usage: move <0-8>")
				continue
			}
			position, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: move <0-8>")
				continue
			}
			move := entity.GameMove{Position: position}
			that.session.SendMessage(stream.PlayerSessionMessage{Move: &move})
		case "quit":
			return
		default:
			fmt.Println("commands: ready | leave | move <0-8> | quit")
		}
	}
}

func (that *game) sendStatus(status entity.PlayerStatus) {
	that.lobby.SendMessage(stream.PlayerLobbyMessage{
		StatusUpdate: &entity.PlayerStatusUpdate{Player: that.me, Status: status},
	})
}

func dial(url string, info entity.Player) stream.DialFunc {
	return func(ctx context.Context, outbound io.Reader) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, outbound)
		if err != nil {
			return nil, err
		}
		req.Header.Set("playerId", info.PlayerID)
		req.Header.Set("playerName", info.Name)
		req.Header.Set("playerTeam", string(info.Team))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %s", resp.Status)
		}

		return resp.Body, nil
	}
}

type lobbyPrinter struct {
	game *game
}

func (that lobbyPrinter) Handle(_ context.Context, message stream.LobbyMessage) error {
	switch {
	case message.LobbyState != nil:
		fmt.Printf("lobby: %d waiting, %d ready, %d games played\n",
			len(message.LobbyState.WaitingPlayers),
			len(message.LobbyState.ReadyPlayers),
			len(message.LobbyState.CompletedSessions),
		)
	case message.StatusUpdate != nil:
		fmt.Printf("player %s (%s) is now %s\n",
			message.StatusUpdate.Player.Name,
			message.StatusUpdate.Player.PlayerID,
			message.StatusUpdate.Status,
		)
	case message.SessionUpdate != nil:
		that.handleSessionUpdate(message.SessionUpdate)
	}
	return nil
}

func (that lobbyPrinter) handleSessionUpdate(update *stream.SessionStatusUpdate) {
	game := update.Game
	mine := game.PlayerOne.PlayerID == that.game.me.PlayerID ||
		game.PlayerTwo.PlayerID == that.game.me.PlayerID

	switch update.Type {
	case stream.SessionStarted:
		if mine {
			fmt.Printf("match started against %s, %s moves first\n",
				opponentName(game, that.game.me.PlayerID), game.CurrentPlayerID)
			that.game.session.Connect(that.game.ctx)
			return
		}
		fmt.Printf("match started: %s vs %s\n", game.PlayerOne.Name, game.PlayerTwo.Name)
	case stream.SessionFinished:
		if mine {
			that.game.session.Disconnect()
		}
		switch {
		case game.Result == nil:
			fmt.Println("match ended")
		case game.Result.Draw:
			fmt.Println("match ended in a draw")
		default:
			fmt.Printf("match won by %s\n", game.Result.Winner.Name)
		}
	}
}

func opponentName(game entity.GameState, playerID string) string {
	if game.PlayerOne.PlayerID == playerID {
		return game.PlayerTwo.Name
	}
	return game.PlayerOne.Name
}

type sessionPrinter struct{}

func (sessionPrinter) Handle(_ context.Context, message stream.SessionMessage) error {
	fmt.Printf("opponent played position %d\n", message.Move.Position)
	return nil
}
