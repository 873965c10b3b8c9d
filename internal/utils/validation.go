package utils

import "fmt"

var allowedKeyChars [128]bool

func init() {
	for _, c := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-:.@+" {
		allowedKeyChars[c] = true
	}
}

// ValidateKey checks that key is non-empty, at most 64 bytes, and contains
// only ASCII alphanumerics plus "_-:.@+". It is applied to configured scope
// names and to the per-request id, which are concatenated into backend
// keys; request paths are not checked against it.
func ValidateKey(key, keyType string) error {
	if len(key) == 0 {
		return fmt.Errorf("%s cannot be empty", keyType)
	}
	if len(key) > 64 {
		return fmt.Errorf("%s cannot exceed 64 bytes, got %d bytes", keyType, len(key))
	}

	const hint = "only alphanumeric ASCII, underscore (_), hyphen (-), colon (:), period (.), at (@), and plus (+) are allowed"
	for i, r := range key {
		if r >= 128 || !allowedKeyChars[r] {
			return fmt.Errorf("%s contains invalid character %q at position %d: %s", keyType, r, i, hint)
		}
	}
	return nil
}

// ValidateScopeName applies the same rule to a configured rule scope name.
func ValidateScopeName(name string) error {
	return ValidateKey(name, "scope name")
}
