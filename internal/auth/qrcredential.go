package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// QRCredential is the scan credential for one active session. The nonce
// is fresh random material issued on every start; the TOTP secret makes
// the presented token rotate without server round-trips. A token is the
// pair "nonce.code" and is unusable once the session leaves ACTIVE.
type QRCredential struct {
	Nonce    string
	Secret   string
	IssuedAt time.Time
	Period   time.Duration
}

const qrNonceBytes = 18

// IssueQRCredential mints a fresh credential bound to the session.
func IssueQRCredential(sessionID string, period time.Duration) (*QRCredential, error) {
	nonce := make([]byte, qrNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate qr nonce: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "checkpoint",
		AccountName: sessionID,
		Period:      uint(period.Seconds()),
		SecretSize:  20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate qr secret: %w", err)
	}

	return &QRCredential{
		Nonce:    base64.RawURLEncoding.EncodeToString(nonce),
		Secret:   key.Secret(),
		IssuedAt: time.Now(),
		Period:   period,
	}, nil
}

// Token renders the credential as presented at time at.
func (c *QRCredential) Token(at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(c.Secret, at, c.validateOpts())
	if err != nil {
		return "", fmt.Errorf("failed to generate qr code component: %w", err)
	}
	return c.Nonce + "." + code, nil
}

// Validate checks a scanned token against the credential at time at.
// One period of clock skew is tolerated in either direction.
func (c *QRCredential) Validate(token string, at time.Time) bool {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(parts[0]), []byte(c.Nonce)) != 1 {
		return false
	}

	ok, err := totp.ValidateCustom(parts[1], c.Secret, at, c.validateOpts())
	return err == nil && ok
}

func (c *QRCredential) validateOpts() totp.ValidateOpts {
	period := uint(c.Period.Seconds())
	if period == 0 {
		period = 30
	}
	return totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    otp.DigitsEight,
		Algorithm: otp.AlgorithmSHA1,
	}
}
