package application

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
)

// Whitelist guarda IPs e prefixos CIDR que passam direto por rate limit e
// blacklist. É configurada, nunca derivada de requests.
type Whitelist struct {
	mu       sync.RWMutex
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func NewWhitelist(entries ...string) (*Whitelist, error) {
	w := &Whitelist{addrs: make(map[netip.Addr]struct{})}
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Add aceita um IP literal ("10.0.0.1") ou um prefixo ("10.0.0.0/8").
func (w *Whitelist) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return fmt.Errorf("whitelist prefix %q: %w", entry, err)
		}
		p = p.Masked()
		for _, existing := range w.prefixes {
			if existing == p {
				return nil
			}
		}
		w.prefixes = append(w.prefixes, p)
		return nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return fmt.Errorf("whitelist address %q: %w", entry, err)
	}
	w.addrs[addr.Unmap()] = struct{}{}
	return nil
}

// Contains informa se ip é confiável. IP inválido nunca é confiável.
func (w *Whitelist) Contains(ip string) bool {
	if w == nil {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, ok := w.addrs[addr]; ok {
		return true
	}
	for _, p := range w.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Matcher devolve uma função que diz se um IP é coberto por entry.
// Usado para limpar a blacklist quando um prefixo inteiro é liberado.
func Matcher(entry string) (func(ip string) bool, error) {
	tmp, err := NewWhitelist(entry)
	if err != nil {
		return nil, err
	}
	return tmp.Contains, nil
}

func (w *Whitelist) Entries() []string {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.addrs)+len(w.prefixes))
	for a := range w.addrs {
		out = append(out, a.String())
	}
	for _, p := range w.prefixes {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}
