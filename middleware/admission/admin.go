package admission

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"github.com/go-chi/chi/v5"
)

// EventReader expõe os eventos recentes (ex.: infra.MemoryEventSink).
type EventReader interface {
	Recent() []domain.SecurityEvent
}

type blockRequest struct {
	IP       string           `json:"ip"`
	Kind     domain.EntryKind `json:"kind"`
	Reason   string           `json:"reason"`
	Duration string           `json:"duration"`
}

type whitelistRequest struct {
	Entry string `json:"entry"`
}

type violationResponse struct {
	IP               string                 `json:"ip"`
	State            string                 `json:"state"`
	Count            int                    `json:"count"`
	FirstViolationAt time.Time              `json:"first_violation_at"`
	LastViolationAt  time.Time              `json:"last_violation_at"`
	Types            []domain.ViolationType `json:"types"`
}

type analyzerResponse struct {
	Status    domain.AnalyzerStatus        `json:"status"`
	Emergency bool                         `json:"emergency"`
	Buckets   []application.BucketSnapshot `json:"buckets"`
}

// AdminRouter monta as rotas operacionais da admissão. events pode ser nil.
// Quem monta o router é responsável por protegê-lo (rede interna/autenticação).
func (a *Admission) AdminRouter(events EventReader) http.Handler {
	r := chi.NewRouter()

	r.Get("/blacklist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Blacklist.Entries())
	})

	r.Post("/blacklist", func(w http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var dur time.Duration
		if req.Duration != "" {
			d, err := time.ParseDuration(req.Duration)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid duration")
				return
			}
			dur = d
		}
		if req.Kind == "" {
			req.Kind = domain.KindTemporary
		}
		if req.Kind != domain.KindTemporary && req.Kind != domain.KindPermanent {
			writeError(w, http.StatusBadRequest, "kind must be TEMPORARY or PERMANENT")
			return
		}
		if req.Reason == "" {
			req.Reason = string(domain.ViolationManual)
		}

		entry, err := a.Blacklist.Add(r.Context(), req.IP, req.Kind, req.Reason, dur)
		switch {
		case errors.Is(err, application.ErrWhitelisted):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSON(w, http.StatusCreated, entry)
		}
	})

	r.Delete("/blacklist/{ip}", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Blacklist.Remove(r.Context(), chi.URLParam(r, "ip")); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/violations/{ip}", func(w http.ResponseWriter, r *http.Request) {
		ip := chi.URLParam(r, "ip")
		rec, ok := a.Blacklist.Violations(ip)
		if !ok {
			writeError(w, http.StatusNotFound, "no violations recorded")
			return
		}
		writeJSON(w, http.StatusOK, violationResponse{
			IP:               rec.IP,
			State:            a.Blacklist.State(ip).String(),
			Count:            rec.Count,
			FirstViolationAt: rec.FirstViolationAt,
			LastViolationAt:  rec.LastViolationAt,
			Types:            rec.Types,
		})
	})

	r.Get("/whitelist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Whitelist.Entries())
	})

	r.Post("/whitelist", func(w http.ResponseWriter, r *http.Request) {
		var req whitelistRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Entry) == "" {
			writeError(w, http.StatusBadRequest, "entry is required")
			return
		}
		if err := a.Blacklist.Whitelist(r.Context(), req.Entry); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a.Whitelist.Entries())
	})

	r.Get("/analyzer", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, analyzerResponse{
			Status:    a.Analyzer.Status(),
			Emergency: a.Analyzer.Emergency(),
			Buckets:   a.Analyzer.Buckets(),
		})
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		if events == nil {
			writeJSON(w, http.StatusOK, []domain.SecurityEvent{})
			return
		}
		recent := events.Recent()
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < len(recent) {
			recent = recent[len(recent)-n:]
		}
		writeJSON(w, http.StatusOK, recent)
	})

	return r
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
