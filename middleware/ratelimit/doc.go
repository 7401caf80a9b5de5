// Package ratelimit fornece o adapter HTTP (net/http) do rate limit.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - keys: normalização de chaves e montagem das chaves de cache
//   - application: Limiter, estratégias (janela fixa, leaky bucket) e Service
//   - infra: backends de cache (memória, Redis), estratégia local e estatísticas
//   - ratelimit (este pacote): middleware HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (IP/header/XFF)
//  2. Chama Service.Decide para o handle configurado
//  3. Se bloqueado, responde via ErrorHandler (padrão: 429 + Retry-After)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Handlers que chamam Limiter.Guard diretamente podem usar Rescue para
// transformar o *domain.RateLimitedError na mesma resposta.
package ratelimit
