// Package masking redacts payer contact details and provider credentials
// before they are written to the audit trail.
package masking

import "strings"

const maskToken = "****"

// Field masks value according to what its key names. Unknown keys pass
// through unchanged; nested maps and slices are walked.
func Field(key string, value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return Map(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, Field(key, item))
		}
		return out
	case string:
		switch classify(key) {
		case kindPhone:
			return MaskPhone(cast)
		case kindEmail:
			return MaskEmail(cast)
		case kindSecret:
			return MaskSecret(cast)
		}
	}
	return value
}

// Map returns a masked copy of input.
func Map(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = Field(key, value)
	}
	return out
}

// MaskPhone keeps the country prefix and the last three digits of an MSISDN,
// enough to tell two payers apart in a review.
func MaskPhone(value string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(value), "+")
	if len(digits) < 8 {
		return maskToken
	}
	prefix := ""
	if strings.HasPrefix(digits, "254") {
		prefix = "254"
	}
	return prefix + maskToken + digits[len(digits)-3:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskSecret(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskSecret keeps a key prefix such as sk_live_ and the last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	prefix, rest := trimmed, ""
	if i := strings.LastIndex(trimmed, "_"); i >= 0 && i < len(trimmed)-1 {
		prefix, rest = trimmed[:i+1], trimmed[i+1:]
	} else {
		prefix, rest = "", trimmed
	}
	if len(rest) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-4:]
}

type kind int

const (
	kindPlain kind = iota
	kindPhone
	kindEmail
	kindSecret
)

func classify(key string) kind {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "phone"), strings.Contains(key, "msisdn"):
		return kindPhone
	case strings.Contains(key, "email"):
		return kindEmail
	case strings.Contains(key, "secret"), strings.Contains(key, "token"),
		strings.Contains(key, "password"), strings.Contains(key, "authorization"):
		return kindSecret
	}
	return kindPlain
}
