package core

import "strings"

const RedactedValue = "[REDACTED]"

func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range []string{
		"private",
		"secret",
		"token",
		"authorization",
		"signature",
		"interact_ref",
		"nonce",
	} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "wallet_address", "key_id", "grant_kind", "intent", "surface_id", "host":
		return true
	default:
		return false
	}
}

// Redacted strips bearer material from a grant so it can leave the core.
func (g Grant) Redacted() Grant {
	out := g
	if out.AccessToken != "" {
		out.AccessToken = RedactedValue
	}
	if out.Continue.AccessToken != "" {
		out.Continue.AccessToken = RedactedValue
	}
	out.ClientNonce = ""
	out.InteractNonce = ""
	return out
}
