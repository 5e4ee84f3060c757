package admission

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"admission-gateway/middleware/admission/domain"

	"github.com/cespare/xxhash/v2"
)

// ClassRoute associa um prefixo de path a uma classe de API.
type ClassRoute struct {
	Prefix string          `yaml:"prefix"`
	Class  domain.APIClass `yaml:"class"`
}

func DefaultClassRoutes() []ClassRoute {
	return []ClassRoute{
		{Prefix: "/api/auth", Class: domain.ClassAuth},
		{Prefix: "/api/admin", Class: domain.ClassAdmin},
		{Prefix: "/api/bulk", Class: domain.ClassBulk},
		{Prefix: "/api/search", Class: domain.ClassSearch},
	}
}

// IdentityExtractor deriva a ClientIdentity a partir da request.
type IdentityExtractor struct {
	// TrustedIPHeader é o header escrito pelo proxy confiável (ex.: X-Real-IP).
	TrustedIPHeader string
	// TrustXForwardedFor habilita o X-Forwarded-For como fallback. O header é
	// controlado pelo cliente, então só vale quando o header confiável falta.
	TrustXForwardedFor bool
	UserHeader         string
	Routes             []ClassRoute
	Logger             *slog.Logger
}

func DefaultIdentityExtractor() IdentityExtractor {
	return IdentityExtractor{
		TrustedIPHeader:    "X-Real-IP",
		TrustXForwardedFor: true,
		UserHeader:         "X-User-ID",
		Routes:             DefaultClassRoutes(),
	}
}

func (e IdentityExtractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ErrMalformedHeader marca headers de identidade que não puderam ser usados.
var ErrMalformedHeader = errors.New("malformed header")

// Extract monta a identidade da request. Os erros devolvidos são headers
// malformados que foram ignorados: a identidade continua utilizável e o
// chamador decide como reportá-los.
func (e IdentityExtractor) Extract(r *http.Request) (domain.ClientIdentity, []error) {
	ip, faults := e.clientIP(r)
	id := domain.ClientIdentity{
		IP:    ip,
		Class: e.Classify(r.URL.Path),
		Path:  r.URL.Path,
	}
	if e.UserHeader != "" {
		id.UserID = strings.TrimSpace(r.Header.Get(e.UserHeader))
	}
	return id, faults
}

// ClientIP escolhe o IP do cliente: header confiável, depois o primeiro hop do
// X-Forwarded-For (se habilitado), depois RemoteAddr. Valores que não são IP
// são ignorados.
func (e IdentityExtractor) ClientIP(r *http.Request) string {
	ip, _ := e.clientIP(r)
	return ip
}

func (e IdentityExtractor) clientIP(r *http.Request) (string, []error) {
	var faults []error
	if e.TrustedIPHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(e.TrustedIPHeader)); v != "" {
			if ip, ok := parseIP(v); ok {
				return ip, nil
			}
			faults = append(faults, e.malformed(e.TrustedIPHeader, v))
		}
	}

	if e.TrustXForwardedFor {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip, faults
			}
			faults = append(faults, e.malformed("X-Forwarded-For", xff))
		}
	}

	// fallback: RemoteAddr
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		addr = host
	}
	if ip, ok := parseIP(addr); ok {
		return ip, faults
	}
	if addr != "" {
		return addr, faults
	}
	return "unknown", faults
}

// maxHeaderEcho corta o valor do header citado no erro; ele vem do cliente.
const maxHeaderEcho = 64

func (e IdentityExtractor) malformed(header, value string) error {
	if len(value) > maxHeaderEcho {
		value = value[:maxHeaderEcho]
	}
	e.logger().Debug("ignoring malformed identity header", "header", header, "value", value)
	return fmt.Errorf("%w: %s=%q", ErrMalformedHeader, header, value)
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

// Classify usa o prefixo mais longo que casar; sem casamento é general.
func (e IdentityExtractor) Classify(path string) domain.APIClass {
	best := -1
	class := domain.ClassGeneral
	for _, rt := range e.Routes {
		if rt.Prefix == "" || !strings.HasPrefix(path, rt.Prefix) {
			continue
		}
		// "/api/auth" não deve casar "/api/authors"
		if len(path) > len(rt.Prefix) && !strings.HasSuffix(rt.Prefix, "/") && path[len(rt.Prefix)] != '/' {
			continue
		}
		if len(rt.Prefix) > best {
			best = len(rt.Prefix)
			class = rt.Class
		}
	}
	return class
}

var signatureHeaders = []string{"Accept", "Accept-Language", "Cache-Control", "User-Agent"}

// HeaderSignature resume os headers que um navegador real varia e um bot
// costuma repetir. Requests sem nenhum desses headers não têm assinatura.
func HeaderSignature(h http.Header) string {
	d := xxhash.New()
	empty := true
	for _, name := range signatureHeaders {
		v := strings.ToLower(strings.TrimSpace(h.Get(name)))
		if v != "" {
			empty = false
		}
		_, _ = d.WriteString(v)
		_, _ = d.WriteString("\x00")
	}
	if empty {
		return ""
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
