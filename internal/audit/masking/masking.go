package masking

import "strings"

const maskToken = "****"

// sensitiveKeys are metadata fields that carry gateway identifiers or
// signatures and must not be stored in clear.
var sensitiveKeys = map[string]bool{
	"gateway_order_id":   true,
	"gateway_payment_id": true,
	"gateway_signature":  true,
	"phone":              true,
	"email":              true,
}

// MaskSecret redacts a value while keeping its prefix and a short suffix,
// so "pay_29QQoUBi66xm2f" becomes "pay_****xm2f".
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata copies input, masking string values under sensitive keys at
// any depth.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		out[trimmedKey] = maskValue(value, sensitiveKeys[strings.ToLower(trimmedKey)])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func maskValue(value any, sensitive bool) any {
	switch cast := value.(type) {
	case string:
		if sensitive {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item, sensitive))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
