package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// DefaultAuthWindow is the maximum accepted age of an assertion.
const DefaultAuthWindow = 300 * time.Second

var (
	// ErrInvalidSignature indicates the hash does not match the fields.
	ErrInvalidSignature = errors.New("telegram: invalid signature")
	// ErrStaleAssertion indicates auth_date is outside the freshness window.
	ErrStaleAssertion = errors.New("telegram: stale assertion")
)

// Verifier checks assertions against a bot token. It holds no mutable state
// beyond the clock override and is safe for concurrent use.
type Verifier struct {
	key    []byte
	window time.Duration
	now    func() time.Time
}

// NewVerifier derives the signing key (SHA-256 of botToken) once.
func NewVerifier(botToken string, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultAuthWindow
	}
	key := sha256.Sum256([]byte(botToken))
	return &Verifier{key: key[:], window: window, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (v *Verifier) WithNowFunc(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the signature of f and then its freshness.
func (v *Verifier) Verify(f Fields) (Assertion, error) {
	hash := f[hashField]
	if hash == "" {
		return Assertion{}, ErrInvalidSignature
	}
	if !hmac.Equal([]byte(hash), []byte(v.sign(f))) {
		return Assertion{}, ErrInvalidSignature
	}

	authDate, err := strconv.ParseInt(f["auth_date"], 10, 64)
	if err != nil {
		return Assertion{}, ErrStaleAssertion
	}
	if v.now().Sub(time.Unix(authDate, 0)) > v.window {
		return Assertion{}, ErrStaleAssertion
	}

	a, err := parseAssertion(f)
	if err != nil {
		return Assertion{}, ErrInvalidSignature
	}
	return a, nil
}

func (v *Verifier) sign(f Fields) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(DataCheckString(f)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the hash the login widget would attach to f for botToken.
func Sign(f Fields, botToken string) string {
	return NewVerifier(botToken, 0).sign(f)
}
