// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: janela fixa por chave, mapa com locks por shard (xxhash)
//   - RedisStore: janela fixa compartilhada via script Lua
//   - TokenBucketStore: alternativa token bucket usando golang.org/x/time/rate
//   - LogSink, MemoryEventSink, RedisEventSink, Metrics: destinos de eventos/estatísticas
//   - RedisBlockStore: espelho da blacklist entre instâncias
//   - ChanPool: semáforo simples para limite de concorrência
package infra
