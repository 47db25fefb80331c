package store

import (
	"strconv"
	"time"
)

// ToInt64 coerces a scanned row value to int64. Drivers surface integers
// as int64, float64 or strings depending on the column affinity.
func ToInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	default:
		return 0
	}
}

// ToString coerces a scanned row value to string.
func ToString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.UTC().Format("2006-01-02 15:04:05")
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// ToBool coerces a scanned row value to bool. Flags are stored as 0/1
// integers for dialect portability.
func ToBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case float64:
		return b != 0
	case string:
		return b == "1" || b == "true" || b == "t"
	case []byte:
		return ToBool(string(b))
	default:
		return false
	}
}
