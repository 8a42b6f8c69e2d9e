package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Seif4646/MysteryMansion/internal/server"
)

func gracefulShutdown(gameServer *server.Server, httpServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("shutdown signal received, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Save rooms and notify players before the listener goes away.
	if err := gameServer.Shutdown(ctx); err != nil {
		log.Warnf("error during server shutdown: %v", err)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warnf("http server forced to shutdown: %v", err)
	}

	done <- true
}

func main() {
	gameServer, httpServer := server.NewServer()

	done := make(chan bool, 1)
	go gracefulShutdown(gameServer, httpServer, done)

	log.Infof("listening on %s", httpServer.Addr)
	err := httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server error: %v", err)
	}

	<-done
	log.Info("graceful shutdown complete")
}
