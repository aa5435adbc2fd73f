package config

import (
	"encoding/json"
	"log/slog"
)

// SecretMask is what every rendering of a Secret produces.
const SecretMask = "**********"

// Secret holds a credential. Every textual rendering of it (fmt, slog, JSON, YAML,
// TOML) yields SecretMask; Value must be called to get the real string.
type Secret string

// Value returns the cleartext secret
func (s Secret) Value() string {
	return string(s)
}

// IsEmpty reports whether no secret was provided
func (s Secret) IsEmpty() bool {
	return s == ""
}

// String implements fmt.Stringer
func (Secret) String() string {
	return SecretMask
}

// GoString implements fmt.GoStringer so %#v is masked too
func (Secret) GoString() string {
	return SecretMask
}

// LogValue implements slog.LogValuer
func (Secret) LogValue() slog.Value {
	return slog.StringValue(SecretMask)
}

// MarshalJSON implements json.Marshaler
func (Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(SecretMask)
}

// MarshalYAML implements yaml.Marshaler
func (Secret) MarshalYAML() (any, error) {
	return SecretMask, nil
}

// MarshalText implements encoding.TextMarshaler
func (Secret) MarshalText() ([]byte, error) {
	return []byte(SecretMask), nil
}
