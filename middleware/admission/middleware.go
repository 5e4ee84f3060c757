package admission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

const defaultMaxBodyBytes = 1 << 20

type Options struct {
	Pipeline *application.Pipeline
	Identity IdentityExtractor
	Stats    domain.StatsStore

	// APIPrefixes define o que é API; o resto (páginas, assets) passa direto.
	APIPrefixes      []string
	StaticExtensions []string
	// MaxBodyBytes limita quanto do body é lido para inspeção.
	MaxBodyBytes int64

	Logger *slog.Logger
	Now    func() time.Time
}

func DefaultAPIPrefixes() []string { return []string{"/api/"} }

func DefaultStaticExtensions() []string {
	return []string{".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2", ".ttf", ".txt"}
}

// errorBody é o JSON devolvido nas negações.
type errorBody struct {
	Error      string `json:"error"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	IncidentID string `json:"incident_id,omitempty"`
}

// StatusFor traduz o erro de domínio no status HTTP da negação.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrContentRejected):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAttackDetected):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, domain.ErrContentRejected):
		return "content_rejected"
	case errors.Is(err, domain.ErrAttackDetected):
		return "service_unavailable"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "rate_limit_exceeded"
	default:
		return "denied"
	}
}

// Skip informa se o path fica fora da admissão (não-API ou asset estático).
func (o Options) Skip(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range o.StaticExtensions {
		if ext == e {
			return true
		}
	}
	for _, prefix := range o.APIPrefixes {
		if strings.HasPrefix(p, prefix) || p == strings.TrimSuffix(prefix, "/") {
			return false
		}
	}
	return true
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Pipeline == nil {
		panic("admission: Options.Pipeline is required")
	}
	if opts.APIPrefixes == nil {
		opts.APIPrefixes = DefaultAPIPrefixes()
	}
	if opts.StaticExtensions == nil {
		opts.StaticExtensions = DefaultStaticExtensions()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Identity.Logger == nil {
		opts.Identity.Logger = opts.Logger
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := opts.Now()

			if opts.Skip(r.URL.Path) {
				opts.record(r, domain.StatsEvent{Allowed: true, Stage: domain.StageSkipped, At: now})
				next.ServeHTTP(w, r)
				return
			}

			id, faults := opts.Identity.Extract(r)
			req := application.Request{
				Identity:        id,
				Method:          r.Method,
				Query:           r.URL.Query(),
				HeaderSignature: HeaderSignature(r.Header),
				At:              now,
				Faults:          faults,
			}
			if isMutating(r.Method) {
				body, err := opts.bufferBody(r)
				if err != nil {
					req.Faults = append(req.Faults, err)
				}
				req.Body = body
			}

			v := opts.Pipeline.Evaluate(r.Context(), req)
			opts.record(r, domain.StatsEvent{
				Key:     id.Key(false),
				Allowed: v.Allowed,
				Stage:   v.Stage,
				Class:   id.Class,
				At:      now,
			})

			if v.QuotaChecked {
				setQuotaHeaders(w.Header(), v.Quota)
			}
			if !v.Allowed {
				writeDenial(w, v)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// bufferBody lê até MaxBodyBytes para inspeção e devolve ao r.Body o que foi
// lido seguido do restante, para o handler seguinte ver o body inteiro. Com
// erro de leitura o que chegou a ser lido ainda é inspecionado.
func (o Options) bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, o.MaxBodyBytes))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil {
		return buf, fmt.Errorf("read request body: %w", err)
	}
	return buf, nil
}

func (o Options) record(r *http.Request, ev domain.StatsEvent) {
	if o.Stats == nil {
		return
	}
	ev.Method = r.Method
	ev.Path = r.URL.Path
	if err := o.Stats.Record(r.Context(), ev); err != nil {
		o.Logger.Debug("stats record failed", "error", err)
	}
}

func setQuotaHeaders(h http.Header, d domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(d.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", formatUnix(d.ResetAt))
	}
}

func writeDenial(w http.ResponseWriter, v application.Verdict) {
	status := StatusFor(v.Err)
	h := w.Header()

	switch status {
	case http.StatusForbidden:
		h.Set("X-Security-Alert", v.Reason)
	case http.StatusBadRequest:
		h.Set("X-Security-Alert", v.Reason)
		h.Set("X-Incident-ID", v.IncidentID)
	case http.StatusTooManyRequests:
		h.Set("Retry-After", formatSeconds(v.Quota.RetryAfter))
	}

	body := errorBody{
		Error:      errorCode(v.Err),
		Code:       status,
		Message:    http.StatusText(status),
		IncidentID: v.IncidentID,
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
