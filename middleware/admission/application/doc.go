// Package application contém os casos de uso da admissão de requests, sem
// conhecer net/http.
//
// Componentes:
//
//   - RateLimiter: quotas por classe de API sobre um domain.CounterStore
//   - PatternAnalyzer: buckets de 10s por endpoint, heurísticas de DDoS/botnet
//     e o modo emergência
//   - Blacklist + Whitelist: máquina de penalidade por IP
//   - Inspector: assinaturas de SQL injection/XSS em query e body
//   - Pipeline: a ordem fixa blacklist → conteúdo → padrão → quota
//   - Janitor: varredura periódica dos stores
//   - ConcurrencyService: vagas de requests em voo com timeout
//
// Ele depende apenas do pacote domain.
// Ex.: Pipeline.Evaluate(ctx, req) retorna um Verdict (allow/deny + etapa + quota).
package application
