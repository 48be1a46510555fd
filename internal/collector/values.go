package collector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case int64:
		return value != 0
	case int32:
		return value != 0
	case int:
		return value != 0
	case float64:
		return value != 0
	case []byte:
		return truthy(string(value))
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "t", "true", "y", "yes", "on":
			return true
		}
		return false
	default:
		return false
	}
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int:
		return strconv.Itoa(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

// decodeDocument accepts a decoded jsonb value, JSON text or JSON bytes.
func decodeDocument(v any) (any, error) {
	var raw []byte
	switch value := v.(type) {
	case nil:
		return nil, nil
	case map[string]any, []any:
		return value, nil
	case string:
		raw = []byte(value)
	case []byte:
		raw = value
	default:
		return nil, fmt.Errorf("unsupported document type %T", v)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return doc, nil
}
