package domain

import "time"

// Observation é o que o analisador de padrões recebe por request.
type Observation struct {
	Endpoint string
	// Identity é a chave que conta como "fonte única" no bucket.
	Identity      string
	IP            string
	Authenticated bool
	// HeaderSignature é o hash dos headers normalizados (assinatura de botnet).
	HeaderSignature string
	At              time.Time
}

// RequestPattern agrega um endpoint dentro de um bucket de tempo curto.
type RequestPattern struct {
	Endpoint           string
	BucketKey          string
	RequestCount       int
	UniqueIdentities   map[string]struct{}
	AuthenticatedCount int
	BucketStart        time.Time
}

// AuthRatio é authenticatedCount/requestCount (0 quando vazio).
func (p *RequestPattern) AuthRatio() float64 {
	if p.RequestCount == 0 {
		return 0
	}
	return float64(p.AuthenticatedCount) / float64(p.RequestCount)
}

// AnalyzerStatus resume o estado global do analisador.
type AnalyzerStatus string

const (
	StatusIdle        AnalyzerStatus = "idle"
	StatusMonitoring  AnalyzerStatus = "monitoring"
	StatusUnderAttack AnalyzerStatus = "under_attack"
)

// PatternVerdict é a resposta de Observe.
type PatternVerdict struct {
	Attack bool
	// Reason descreve a heurística que disparou (vazio quando nada disparou).
	Reason string
	// Botnet é reportado de forma independente do volume por IP.
	Botnet         bool
	SignatureCount int
	// BotnetOnset marca a request que cruzou o limiar (uma vez por janela).
	BotnetOnset   bool
	Emergency     bool
	RequestCount  int
	UniqueSources int
	AuthRatio     float64
}
