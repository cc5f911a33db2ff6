package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shellgate/shellgate/internal/config"
	"github.com/shellgate/shellgate/internal/daemon"
	"github.com/shellgate/shellgate/internal/logging"
)

func main() {
	config.Load()
	logging.Init()

	var command []string
	if config.Cfg.Shell != "" {
		command = []string{config.Cfg.Shell}
	}

	reg := daemon.NewRegistry(daemon.Config{
		Command:        command,
		ScrollbackSize: config.Cfg.ScrollbackSize,
	})

	if err := os.MkdirAll(filepath.Dir(config.Cfg.SocketPath), 0700); err != nil {
		log.Fatalf("Socket directory: %v", err)
	}

	srv, err := daemon.Listen(config.Cfg.SocketPath, reg)
	if err != nil {
		log.Fatalf("Daemon listen: %v", err)
	}
	log.Printf("Session daemon listening on %s", config.Cfg.SocketPath)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		log.Println("Shutting down session daemon...")
		srv.Close()
	}()

	if err := srv.Serve(); err != nil && sigCtx.Err() == nil {
		log.Printf("Daemon serve: %v", err)
	}

	reg.Shutdown()
	log.Println("Session daemon stopped")
}
