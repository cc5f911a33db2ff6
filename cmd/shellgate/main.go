package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shellgate/shellgate/internal/auth"
	"github.com/shellgate/shellgate/internal/config"
	"github.com/shellgate/shellgate/internal/database"
	"github.com/shellgate/shellgate/internal/handlers"
	"github.com/shellgate/shellgate/internal/ipc"
	"github.com/shellgate/shellgate/internal/logging"
	"github.com/shellgate/shellgate/internal/middleware"
	"github.com/shellgate/shellgate/internal/sshfront"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(config.Cfg.DataPath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: AuthDisabled=%v, RPID=%s, RPOrigins=%v", config.Cfg.AuthDisabled, config.Cfg.RPID, config.Cfg.RPOrigins)

	sessionTTL, err := time.ParseDuration(config.Cfg.SessionTTL)
	if err != nil {
		sessionTTL = auth.DefaultSessionTTL
	}

	gate, err := auth.New(auth.Config{
		RPID:       config.Cfg.RPID,
		RPOrigins:  config.Cfg.RPOrigins,
		SessionTTL: sessionTTL,
	})
	if err != nil {
		log.Fatalf("Auth init: %v", err)
	}
	handlers.Gate = gate

	daemonClient := ipc.Dial(config.Cfg.SocketPath)
	defer daemonClient.Close()
	handlers.Daemon = daemonClient

	// Expired auth sessions are also removed lazily on use; the ticker
	// keeps the table from accumulating between logins.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			gate.Cleanup()
		}
	}()

	if config.Cfg.SSHAddr != "" {
		sshSrv, err := sshfront.New(daemonClient, config.Cfg.DataPath)
		if err != nil {
			log.Printf("WARNING: SSH front end disabled: %v", err)
		} else {
			go func() {
				log.Printf("SSH front end listening on %s", config.Cfg.SSHAddr)
				if err := sshSrv.ListenAndServe(config.Cfg.SSHAddr); err != nil {
					log.Printf("SSH front end stopped: %v", err)
				}
			}()
			defer sshSrv.Close()
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Trust surface (no auth: installed before any credential exists).
	r.Get("/connect/trust/ca.crt", handlers.TrustCACert)
	r.Get("/connect/trust/ca.mobileconfig", handlers.TrustMobileConfig)

	r.Route("/api", func(r chi.Router) {
		// Ceremony endpoints establish authentication, so they sit
		// outside the gate.
		r.Post("/auth/register/begin", handlers.RegisterBegin)
		r.Post("/auth/register/finish", handlers.RegisterFinish)
		r.Post("/auth/login/begin", handlers.LoginBegin)
		r.Post("/auth/login/finish", handlers.LoginFinish)
		r.Post("/auth/password/login", handlers.PasswordLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(gate))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.Me)
			r.Post("/auth/password", handlers.SetPassword)

			r.Post("/sessions", handlers.CreateSession)
			r.Get("/sessions", handlers.ListSessions)
			r.Put("/sessions/{name}", handlers.RenameSession)
			r.Delete("/sessions/{name}", handlers.DeleteSession)
			r.Get("/sessions/{name}/ws", handlers.TerminalWS)

			r.Post("/tokens", handlers.CreateSetupToken)
			r.Get("/tokens", handlers.ListSetupTokens)
			r.Delete("/tokens/{id}", handlers.DeleteSetupToken)

			r.Get("/credentials", handlers.ListCredentials)
			r.Delete("/credentials/{id}", handlers.RevokeCredential)

			r.Post("/uploads", handlers.Upload)

			r.Get("/logs", handlers.GetServerLogs)
			r.Delete("/logs", handlers.ClearServerLogs)
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.WebAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Shellgate listening on %s", config.Cfg.WebAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}
