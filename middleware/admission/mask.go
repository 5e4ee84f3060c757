package admission

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"admission-gateway/middleware/admission/domain"
)

// MaskOptions configura o passe de mascaramento de PII na resposta. Ele roda
// depois da admissão e não influencia a decisão.
type MaskOptions struct {
	Masker      domain.BodyMasker
	APIPrefixes []string
	// PublicPaths ficam de fora mesmo sendo API (prefixo).
	PublicPaths []string
}

func (o MaskOptions) applies(p string) bool {
	for _, pub := range o.PublicPaths {
		if strings.HasPrefix(p, pub) {
			return false
		}
	}
	for _, prefix := range o.APIPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// MaskResponses bufferiza respostas de API e aplica o Masker quando o
// Content-Type é JSON. Outras respostas passam inalteradas.
func MaskResponses(opts MaskOptions) func(next http.Handler) http.Handler {
	if opts.Masker == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.APIPrefixes == nil {
		opts.APIPrefixes = DefaultAPIPrefixes()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.applies(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			bw := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(bw, r)

			body := bw.buf.Bytes()
			if isJSON(w.Header().Get("Content-Type")) {
				body = opts.Masker.Mask(body)
			}
			if bw.status != http.StatusNoContent && bw.status != http.StatusNotModified {
				w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			}
			w.WriteHeader(bw.status)
			_, _ = w.Write(body)
		})
	}
}

func isJSON(ct string) bool {
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// bufferedWriter segura status e body até o handler terminar.
type bufferedWriter struct {
	http.ResponseWriter
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.buf.Write(p)
}
