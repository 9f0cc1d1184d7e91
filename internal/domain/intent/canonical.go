package intent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CanonicalJSON renders v as compact JSON with object keys sorted at every
// nesting level. Adapters accept arbitrary payloads, so the same logical
// parameters must hash identically regardless of map iteration order; the
// embedding cache and audit change detection both key off this form.
func CanonicalJSON(v interface{}) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		writeJSONString(b, val)
	case float64:
		b.WriteString(formatCanonicalNumber(val))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		b.WriteString(val.String())
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		// Structs and other concrete types round-trip through encoding/json
		// into JSON-native values, which land in the cases above.
		data, err := json.Marshal(val)
		if err != nil {
			writeJSONString(b, fmt.Sprintf("%v", val))
			return
		}
		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			b.Write(data)
			return
		}
		writeCanonical(b, decoded)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}

// formatCanonicalNumber renders integral floats without an exponent or a
// trailing ".0" so that {"n":2} and the decoded form of {"n":2.0} hash
// identically.
func formatCanonicalNumber(f float64) string {
	if f == float64(int64(f)) && f >= -1e15 && f <= 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
