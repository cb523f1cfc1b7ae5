package labels

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// EncodePartitionValue appends an encoding of value into the []byte slice,
// returning the result. Encoded values are suitable for embedding within
// journal names as well as label values.
//
//   - String values append their URL query-encoding.
//   - Booleans append either %_true or %_false.
//   - Integers append their base-10 encoding with a `%_` prefix, as in `%_-1234`.
//   - Null appends %_null.
//
// Types other than strings all use a common %_ prefix, which can never be
// produced by a query-encoded string and thus allows unambiguously mapping a
// partition value back into its JSON value.
func EncodePartitionValue(b []byte, value any) []byte {
	switch v := value.(type) {
	case nil:
		return append(b, `%_null`...)
	case bool:
		if v {
			return append(b, `%_true`...)
		}
		return append(b, `%_false`...)
	case uint64:
		return strconv.AppendUint(append(b, `%_`...), v, 10)
	case int64:
		return strconv.AppendInt(append(b, `%_`...), v, 10)
	case int:
		return strconv.AppendInt(append(b, `%_`...), int64(v), 10)
	case float64:
		return strconv.AppendInt(append(b, `%_`...), int64(v), 10)
	case string:
		// Label values have a pretty restrictive set of allowed non-letter
		// or digit characters. Use URL query escapes to encode an arbitrary
		// string value into a label-safe (and name-safe) representation.
		return append(b, strings.ReplaceAll(url.QueryEscape(v), "+", "%20")...)
	default:
		panic(fmt.Sprintf("invalid partition value type: %#v", value))
	}
}

// DecodePartitionValue maps a partition value encoding produced by
// EncodePartitionValue back into its dynamic JSON-ish type.
func DecodePartitionValue(value string) (any, error) {
	if value == "%_null" {
		return nil, nil
	} else if value == "%_true" {
		return true, nil
	} else if value == "%_false" {
		return false, nil
	} else if strings.HasPrefix(value, "%_-") {
		return strconv.ParseInt(value[2:], 10, 64)
	} else if strings.HasPrefix(value, "%_") {
		return strconv.ParseUint(value[2:], 10, 64)
	} else {
		return url.QueryUnescape(value)
	}
}
