// Package keys normaliza chaves heterogêneas e deriva as chaves de cache.
//
// A chave de cache tem o formato "<namespace>/<digest>", em que o namespace
// separa as famílias de estratégia (e a versão do formato) e o digest cobre
// (handle, chave normalizada[, janela]).
package keys

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Separator une os elementos de uma chave composta.
const Separator = "/"

const (
	IntervalNamespace    = "throttle/v3/interval"
	LeakyBucketNamespace = "throttle/v3/leaky_bucket"
)

// Normalize converte value em uma string estável.
//
// Sequências são achatadas recursivamente e unidas com "/"; escalares usam a
// forma canônica. Não há garantia contra colisões de entradas maliciosas
// (ex.: []string{"a/b"} e []string{"a", "b"} normalizam igual).
func Normalize(value any) string {
	// ponteiro nil tipado não pode chegar ao String() de receptor por valor
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return ""
	}

	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		return strings.Join(v, Separator)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Normalize(e)
		}
		return strings.Join(parts, Separator)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Normalize(rv.Index(i).Interface())
		}
		return strings.Join(parts, Separator)
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return Normalize(rv.Elem().Interface())
	}
	return fmt.Sprint(value)
}

// Window devolve o índice da janela fixa floor(now/interval).
func Window(now time.Time, interval time.Duration) int64 {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		return 0
	}
	return now.Unix() / secs
}

// Digest é o hash (xxhash64, hex) de uma chave já normalizada.
func Digest(normalized string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalized))
}

// IntervalCacheKey é a chave de uma janela fixa: muda a cada intervalo.
func IntervalCacheKey(handle, normalizedKey string, interval time.Duration, now time.Time) string {
	window := Window(now, interval)
	return Build(IntervalNamespace, handle, normalizedKey, window)
}

// BucketCacheKey é a chave do leaky bucket: estável no tempo.
func BucketCacheKey(handle, normalizedKey string) string {
	return Build(LeakyBucketNamespace, handle, normalizedKey)
}

// Build combina namespace e digest das partes; útil para estratégias extras.
func Build(namespace string, parts ...any) string {
	return namespace + Separator + Digest(Normalize(parts))
}
