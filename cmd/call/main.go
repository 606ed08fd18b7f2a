// Command call is an endpoint for two-party calls: it hosts a new call or
// joins an existing one through a signaling server, then runs until the
// user interrupts it or the session ends.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/adapter/driven/media/pion"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/adapter/driven/store/wsstore"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/service"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "signaling server base URL")
	join := flag.String("join", "", "call id to join; hosts a new call when empty")
	flag.Parse()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Logger()
	zlog.Logger = l

	factory, err := pion.NewLinkFactory(pion.DefaultConfig())
	if err != nil {
		l.Fatal().Err(err).Msg("Setting up WebRTC")
	}

	ended := make(chan domain.EndReason, 1)
	session := service.NewCallSession(service.Config{
		Store:    wsstore.New(*server),
		NewLink:  factory,
		Media:    pion.NewSource(),
		Notifier: notifier{l: l, ended: ended},
	})

	ctx := context.Background()

	if *join == "" {
		id, err := session.StartHosting(ctx)
		if err != nil {
			l.Fatal().Err(err).Msg("Starting call")
		}
		l.Info().Str("call_id", id.String()).Msgf("Share this id to let someone join: %s", id)
	} else {
		id, err := domain.ParseCallID(*join)
		if err != nil {
			l.Fatal().Err(err).Msg("Bad call id")
		}
		if err := session.Join(ctx, id); err != nil {
			l.Fatal().Err(err).Msg("Joining call")
		}
	}

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		if sig == syscall.SIGTERM {
			// Process teardown: fire-and-forget, no further scheduling is
			// guaranteed.
			shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			session.Shutdown(shutdownCtx)
			cancel()
		} else {
			session.Stop(ctx)
		}
		<-ended
	case reason := <-ended:
		l.Info().Str("reason", string(reason)).Msg("Session ended")
	}
}

type notifier struct {
	l     zerolog.Logger
	ended chan domain.EndReason
}

func (n notifier) RemoteDeparted() {
	n.l.Info().Msg("Other user left the call; you can keep waiting or hang up")
}

func (n notifier) SessionEnded(reason domain.EndReason) {
	select {
	case n.ended <- reason:
	default:
	}
}
