package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/adapter/driven/store/memory"
	handler "github.com/ibrkljacic/webrtc-video-call-app/internal/adapter/driving/http"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	zlog.Logger = l

	store := memory.NewStore()
	h := handler.NewHandler(store)

	srv := &http.Server{
		Addr:    *addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", *addr).Msg("Starting signaling server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down signaling server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	l.Info().Msg("Server exited")
}
