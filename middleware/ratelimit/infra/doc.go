// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCache / RedisCache: backends de domain.Cache
//   - LocalTokenBucket: estratégia em memória usando golang.org/x/time/rate
//   - MemoryStatsStore / RedisStatsStore / PrometheusStatsStore: estatísticas
package infra
