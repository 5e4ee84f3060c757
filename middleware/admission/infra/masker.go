package infra

import (
	"regexp"
)

// RegexMasker substitui tokens com cara de PII no corpo da resposta.
// É o passe de saída aplicado depois da admissão; não participa da decisão.
type RegexMasker struct {
	rules []maskRule
}

type maskRule struct {
	re   *regexp.Regexp
	repl []byte
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\b0\d{1,2}-?\d{3,4}-?\d{4}\b`)
)

// NewRegexMasker cria o masker com e-mail e telefone; extras entram depois.
func NewRegexMasker(extra ...*regexp.Regexp) *RegexMasker {
	m := &RegexMasker{rules: []maskRule{
		{re: emailPattern, repl: []byte("***@***")},
		{re: phonePattern, repl: []byte("***-****-****")},
	}}
	for _, re := range extra {
		m.rules = append(m.rules, maskRule{re: re, repl: []byte("****")})
	}
	return m
}

func (m *RegexMasker) Mask(body []byte) []byte {
	for _, r := range m.rules {
		body = r.re.ReplaceAll(body, r.repl)
	}
	return body
}
