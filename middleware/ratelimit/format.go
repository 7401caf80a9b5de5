package ratelimit

import "strconv"

// formatInt formata contadores e segundos para headers.
func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
