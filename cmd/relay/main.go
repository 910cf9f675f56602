// Relay is the session relay entry point.
//
// Serves the WebSocket endpoint participants of cmd/duet connect to. Each
// connection names its session and peer id in the query string; messages are
// forwarded to the addressed peer or to the rest of the session.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/1ureka/duet/internal/relay"
)

var log = logrus.New()

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file, using flags and environment")
	}

	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	defaultAddr := ":8080"
	if port := os.Getenv("RELAY_PORT"); port != "" {
		defaultAddr = ":" + port
	}

	flags := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	addr := flags.String("addr", defaultAddr, "Listen address")
	path := flags.String("path", "/ws", "WebSocket endpoint path")
	debug := flags.Bool("debug", false, "Enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("Invalid arguments")
	}

	log.SetLevel(logrus.InfoLevel)
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	hub := relay.NewHub(log)
	mux := http.NewServeMux()
	mux.Handle(*path, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Shutdown did not complete")
		}
	}()

	log.WithFields(logrus.Fields{"addr": *addr, "path": *path}).Info("Relay is running. Press CTRL+C to exit.")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Relay failed")
	}
	log.Info("Relay stopped")
}
