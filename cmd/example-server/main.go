package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/logger"
	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/infra"

	"github.com/go-chi/chi/v5"
)

func main() {
	// Exemplo: o middleware embutido direto no seu webserver (sem proxy).
	log := logger.New(logger.DefaultConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recent := infra.NewMemoryEventSink(200)
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	policy := admission.DefaultPolicy()
	policy.PublicPaths = []string{"/api/public/"}

	adm, err := admission.New(policy, admission.Deps{
		Events: infra.MultiSink{infra.NewLogSink(log, 5, 10), recent},
		Stats:  stats,
		Logger: log,
	})
	if err != nil {
		log.Error("admission setup", "error", err)
		os.Exit(1)
	}
	adm.Start(ctx)
	defer adm.Stop()

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(adm.Middleware())
		r.Use(adm.MaskResponses(infra.NewRegexMasker()))

		r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{
				"id":    chi.URLParam(r, "id"),
				"email": "maria.silva@example.com",
				"phone": "+55 11 91234-5678",
			})
		})
		r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{"status": "ok"})
		})
		r.Get("/api/public/contact", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{"email": "contato@example.com"})
		})
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
	})

	r.Mount("/admin", adm.AdminRouter(recent))
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stats.Snapshot())
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
