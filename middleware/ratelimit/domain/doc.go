// Package domain define contratos e tipos de domínio para o motor de admissão (throttle).
//
// Este pacote não depende de net/http nem de implementações concretas.
// Aqui ficam o registro de handles (HandleConfig), as opções resolvidas por
// chamada (CallOptions), o contrato de cache externo, a interface Strategy e
// os tipos de erro (configuração inválida, handle desconhecido, rate limited).
package domain
