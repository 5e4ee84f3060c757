// Package admission fornece os adapters HTTP (net/http) da admissão de requests:
// rate limit por classe de API, detecção de padrões de ataque, blacklist com
// penalidade progressiva e inspeção de conteúdo.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (limiter, analyzer, blacklist, pipeline) sem net/http
//   - infra: implementações concretas (stores em memória/Redis, sinks, métricas, semáforo)
//   - admission (este pacote): middlewares HTTP + extração de identidade + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Pula paths estáticos/não-API
//  2. Extrai a identidade do cliente (X-Real-IP > X-Forwarded-For > RemoteAddr, X-User-ID, classe)
//  3. Chama o Pipeline: blacklist (403), conteúdo (400), padrão (503), quota (429)
//  4. Se permitido, anexa os headers de quota e chama o próximo handler (ex: reverse proxy)
//
// A política (quotas, rotas, whitelist, limiares) vem de YAML via LoadPolicy;
// New monta os serviços e AdminRouter expõe as rotas operacionais.
package admission
