package application

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"admission-gateway/middleware/admission/domain"
)

// InspectionRule é uma assinatura de conteúdo malicioso.
type InspectionRule struct {
	Name    string
	Type    domain.ViolationType
	Pattern *regexp.Regexp
}

// Match descreve a primeira regra que casou.
type Match struct {
	Rule  string
	Type  domain.ViolationType
	Field string
}

// DefaultInspectionRules cobre as formas mais comuns de SQL injection e XSS.
// Não é um WAF: o objetivo é barrar sondagens óbvias barato.
func DefaultInspectionRules() []InspectionRule {
	return []InspectionRule{
		// SQL
		{Name: "sql_union_select", Type: domain.ViolationInjection, Pattern: regexp.MustCompile(`(?i)\bunion\b[\s(]+(all\s+)?select\b`)},
		{Name: "sql_tautology", Type: domain.ViolationInjection, Pattern: regexp.MustCompile(`(?i)['"]\s*\b(or|and)\b\s*['"]?\w+['"]?\s*=\s*['"]?\w+`)},
		{Name: "sql_comment_terminator", Type: domain.ViolationInjection, Pattern: regexp.MustCompile(`'\s*(;|--|#|/\*)`)},
		{Name: "sql_stacked_query", Type: domain.ViolationInjection, Pattern: regexp.MustCompile(`(?i);\s*\b(drop|delete|insert|update|alter|truncate|exec)\b`)},
		{Name: "sql_time_based", Type: domain.ViolationInjection, Pattern: regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(\s*\d|\bwaitfor\s+delay\s+'`)},
		{Name: "sql_schema_probe", Type: domain.ViolationInjection, Pattern: regexp.MustCompile(`(?i)\binformation_schema\b|\bsys\.objects\b`)},
		// XSS
		{Name: "xss_script_tag", Type: domain.ViolationXSS, Pattern: regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
		{Name: "xss_event_handler", Type: domain.ViolationXSS, Pattern: regexp.MustCompile(`(?i)<[^>]+\bon[a-z]+\s*=`)},
		{Name: "xss_js_uri", Type: domain.ViolationXSS, Pattern: regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:`)},
		{Name: "xss_embed_tag", Type: domain.ViolationXSS, Pattern: regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b[^>]*>`)},
		{Name: "xss_data_html", Type: domain.ViolationXSS, Pattern: regexp.MustCompile(`(?i)data:text/html`)},
	}
}

// Inspector roda as regras sobre query e body já bufferizados.
type Inspector struct {
	rules []InspectionRule
}

func NewInspector(rules ...InspectionRule) *Inspector {
	if len(rules) == 0 {
		rules = DefaultInspectionRules()
	}
	return &Inspector{rules: rules}
}

// CompileRules monta regras a partir de padrões de texto (configuração).
func CompileRules(t domain.ViolationType, patterns map[string]string) ([]InspectionRule, error) {
	names := make([]string, 0, len(patterns))
	for n := range patterns {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]InspectionRule, 0, len(patterns))
	for _, n := range names {
		re, err := regexp.Compile(patterns[n])
		if err != nil {
			return nil, fmt.Errorf("inspection rule %s: %w", n, err)
		}
		out = append(out, InspectionRule{Name: n, Type: t, Pattern: re})
	}
	return out, nil
}

// Inspect devolve a primeira regra que casar em algum valor da query ou no
// body. Um body percent-encoded é checado também na forma decodificada.
func (i *Inspector) Inspect(query url.Values, body []byte) (Match, bool) {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if m, ok := i.match("query:"+k, k); ok {
			return m, true
		}
		for _, v := range query[k] {
			if m, ok := i.match("query:"+k, v); ok {
				return m, true
			}
		}
	}

	if len(body) == 0 {
		return Match{}, false
	}
	raw := string(body)
	if m, ok := i.match("body", raw); ok {
		return m, true
	}
	if dec, err := url.QueryUnescape(raw); err == nil && dec != raw {
		if m, ok := i.match("body", dec); ok {
			return m, true
		}
	}
	return Match{}, false
}

func (i *Inspector) match(field, s string) (Match, bool) {
	if s == "" {
		return Match{}, false
	}
	for _, r := range i.rules {
		if r.Pattern.MatchString(s) {
			return Match{Rule: r.Name, Type: r.Type, Field: field}, true
		}
	}
	return Match{}, false
}
