package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bjaus/docsync/internal/source"
)

// snake converts camelCase to snake_case. Runs of capitals stay one word
// ("numberOfSMSTrials" -> "number_of_sms_trials").
func snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsUpper(runes[i-1]) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// column maps a source field name to its target column name.
func column(field string) string {
	if field == "_id" {
		return "mongo_id"
	}
	return snake(field)
}

// timestamp renders t in UTC at second precision. Zero times become nil.
func timestamp(v any) any {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return nil
	}
	return t.UTC().Truncate(time.Second)
}

// scalar converts identifiers and times to their target representation.
func scalar(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case time.Time:
		return timestamp(t)
	default:
		return v
	}
}

// text renders a scalar as a string, or nil when absent.
func text(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	default:
		return ref(t)
	}
}

// ref returns the canonical string form of a reference field, or "".
func ref(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return source.IDString(v)
}

// point renders a [x, y] coordinate pair as a WKT point.
func point(v any) any {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return nil
	}
	x, okX := number(pair[0])
	y, okY := number(pair[1])
	if !okX || !okY {
		return nil
	}
	return fmt.Sprintf("POINT(%s %s)",
		strconv.FormatFloat(x, 'f', -1, 64),
		strconv.FormatFloat(y, 'f', -1, 64))
}

// money renders an amount with two decimals, or nil when absent.
func money(v any) any {
	f, ok := number(v)
	if !ok {
		return nil
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func integer(v any, def int64) int64 {
	f, ok := number(v)
	if !ok {
		return def
	}
	return int64(f)
}

func boolean(v any, def bool) bool {
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
