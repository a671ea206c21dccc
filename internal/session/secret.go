package session

import (
	"crypto/subtle"
	"errors"
	"log/slog"
)

const redacted = "[redacted]"

// ErrSecretMarshal is returned when a token is about to be serialized.
// Tokens only leave the process through SecretStore (refresh) or the
// Authorization header (access).
var ErrSecretMarshal = errors.New("session: secrets are not serializable")

// VolatileSecret holds the access token. It lives in process memory only.
type VolatileSecret struct {
	value string
}

func NewVolatileSecret(v string) VolatileSecret { return VolatileSecret{value: v} }

func (s VolatileSecret) Reveal() string { return s.value }
func (s VolatileSecret) IsZero() bool { return s.value == "" }

func (s VolatileSecret) Equal(o VolatileSecret) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(o.value)) == 1
}

func (s VolatileSecret) String() string { return redacted }
func (s VolatileSecret) LogValue() slog.Value { return slog.StringValue(redacted) }
func (VolatileSecret) MarshalJSON() ([]byte, error) { return nil, ErrSecretMarshal }
func (VolatileSecret) MarshalText() ([]byte, error) { return nil, ErrSecretMarshal }

// DurableSecret holds the refresh token. Its only durable home is a SecretStore.
type DurableSecret struct {
	value string
}

func NewDurableSecret(v string) DurableSecret { return DurableSecret{value: v} }

func (s DurableSecret) Reveal() string { return s.value }
func (s DurableSecret) IsZero() bool { return s.value == "" }

func (s DurableSecret) Equal(o DurableSecret) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(o.value)) == 1
}

func (s DurableSecret) String() string { return redacted }
func (s DurableSecret) LogValue() slog.Value { return slog.StringValue(redacted) }
func (DurableSecret) MarshalJSON() ([]byte, error) { return nil, ErrSecretMarshal }
func (DurableSecret) MarshalText() ([]byte, error) { return nil, ErrSecretMarshal }
