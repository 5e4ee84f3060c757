package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// APIClass agrupa endpoints que compartilham a mesma quota.
type APIClass string

const (
	ClassGeneral APIClass = "general"
	ClassSearch  APIClass = "search"
	ClassAuth    APIClass = "auth"
	ClassAdmin   APIClass = "admin"
	ClassBulk    APIClass = "bulk"
)

// Key é a chave de tamanho fixo usada nos stores (hash da identidade).
type Key string

// ClientIdentity é derivada a cada request e nunca persistida.
// Serve apenas como chave de lookup.
type ClientIdentity struct {
	IP     string
	UserID string
	Class  APIClass
	Path   string
}

// Authenticated indica se a request trouxe um usuário autenticado.
func (id ClientIdentity) Authenticated() bool { return id.UserID != "" }

// Key devolve o SHA-256 (hex) de ip|user|class normalizados.
// O usuário só entra na chave quando a classe conta por usuário; assim um
// NAT compartilhado não é limitado inteiro por causa de uma conta.
//
// A chave usa a classe de API e não o path: todos os endpoints de uma classe
// dividem a mesma quota, e paths com ids (/api/orders/123) não criam um
// contador novo por request.
func (id ClientIdentity) Key(perUser bool) Key {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(id.IP)))
	b.WriteByte('|')
	if perUser {
		b.WriteString(strings.TrimSpace(id.UserID))
	}
	b.WriteByte('|')
	b.WriteString(strings.ToLower(string(id.Class)))

	sum := sha256.Sum256([]byte(b.String()))
	return Key(hex.EncodeToString(sum[:]))
}
