package credentials

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// APNs accepts provider tokens for 60 minutes; we cache for 50 so a cached
// token is always comfortably inside the acceptance window.
const apnsTokenTTL = 50 * time.Minute

// APNSSignerConfig holds the credentials required to sign APNs provider
// tokens. PrivateKeyPEM is the raw content of the .p8 file.
type APNSSignerConfig struct {
	KeyID         string
	TeamID        string
	PrivateKeyPEM string
}

// APNSSigner produces the ES256-signed provider token APNs expects. The
// compact JWT itself is the publisher credential.
type APNSSigner struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	now    func() time.Time
}

// NewAPNSSigner parses the P8 key immediately to fail fast on startup if the
// credentials are bad.
func NewAPNSSigner(cfg APNSSignerConfig) (*APNSSigner, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, &CredentialError{
			Platform: relay.PlatformAPNS,
			Op:       "key import",
			Err:      fmt.Errorf("failed to parse APNs P8 key: %w", err),
		}
	}
	return &APNSSigner{
		key:    key,
		keyID:  cfg.KeyID,
		teamID: cfg.TeamID,
		now:    time.Now,
	}, nil
}

// Generate signs header {"alg":"ES256","kid":<key id>} over claims
// {"iss":<team id>,"iat":<now>}. APNs keys the token to the publisher via
// kid/iss; no expiry claim is carried, the 60 minute window runs from iat.
func (s *APNSSigner) Generate(_ context.Context) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.teamID,
		"iat": s.now().Unix(),
	})
	token.Header = map[string]interface{}{
		"alg": jwt.SigningMethodES256.Alg(),
		"kid": s.keyID,
	}

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", &CredentialError{
			Platform: relay.PlatformAPNS,
			Op:       "sign",
			Err:      err,
		}
	}
	return signed, nil
}

func (s *APNSSigner) TTL() time.Duration { return apnsTokenTTL }
