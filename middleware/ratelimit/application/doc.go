// Package application contém os casos de uso do rate limit: resolução de
// opções, as estratégias de janela fixa e leaky bucket, o Limiter e o Service.
//
// Ele depende apenas dos pacotes domain e keys e não conhece net/http.
// Ex.: Service.Decide(ctx, key) retorna uma Decision (allow/deny + retry-after).
package application
