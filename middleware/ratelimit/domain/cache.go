package domain

import (
	"context"
	"time"
)

// Cache é o backend externo onde o estado dos contadores vive.
//
// É a única fonte da verdade: o limiter nunca guarda contadores localmente
// entre chamadas. Erros do backend são propagados sem alteração.
//
// Ausência de chave precisa ser distinguível de um zero gravado, por isso
// Read/Increment/Decrement devolvem found.
type Cache interface {
	Read(ctx context.Context, key string) (value []byte, found bool, err error)
	// Write grava value; expiresIn <= 0 significa sem expiração.
	Write(ctx context.Context, key string, value []byte, expiresIn time.Duration) error
	// Increment soma amount de forma atômica. Se a chave não existe, não grava
	// nada e devolve found=false.
	Increment(ctx context.Context, key string, amount int64, expiresIn time.Duration) (n int64, found bool, err error)
	// Decrement subtrai amount de forma atômica, com a mesma regra de Increment.
	Decrement(ctx context.Context, key string, amount int64, expiresIn time.Duration) (n int64, found bool, err error)
}
