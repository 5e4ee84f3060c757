package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"admission-gateway/internal/logger"

	"github.com/go-chi/chi/v5"
)

// Upstream de validação manual: fica atrás do gateway (UPSTREAM_URL) e
// devolve JSON com PII para exercitar o mascaramento.
func main() {
	log := logger.New(logger.DefaultConfig())

	r := chi.NewRouter()
	r.Get("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>"))
		log.Info("upstream hit", "path", r.URL.Path, "client", r.Header.Get("X-Forwarded-For"))
	})
	r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":    chi.URLParam(r, "id"),
			"email": "joao.souza@example.com",
			"phone": "(11) 98765-4321",
		})
	})
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("demo upstream listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
