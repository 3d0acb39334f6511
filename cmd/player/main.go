// Command player joins a room as a headless listener: it keeps its
// clock synced, follows scheduled actions and logs what a real audio
// backend would do. Useful for soak-testing a server with many
// members.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/chorus/internal/client"
)

type logEngine struct{}

func (logEngine) Play(source string, trackTimeSeconds float64) error {
	log.Info().Str("module", "player").Str("source", source).
		Float64("at", trackTimeSeconds).Msg("play")
	return nil
}

func (logEngine) Pause() error {
	log.Info().Str("module", "player").Msg("pause")
	return nil
}

func (logEngine) SetGain(gain, rampTime float64) error {
	log.Info().Str("module", "player").Float64("gain", gain).
		Float64("ramp", rampTime).Msg("gain")
	return nil
}

func main() {
	server := flag.String("server", "ws://localhost:8080", "server base url")
	roomID := flag.String("room", "", "room to join")
	username := flag.String("username", "listener", "display name")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(clockwork.NewRealClock(), client.Options{
		ServerURL: *server,
		RoomID:    *roomID,
		Username:  *username,
		Engine:    logEngine{},
	})
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("player stopped")
	}
}
