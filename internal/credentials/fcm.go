package credentials

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const (
	// Google issues access tokens with a 60 minute lifetime; caching for 55
	// keeps the cached token strictly inside that.
	fcmTokenTTL = 55 * time.Minute

	firebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"
	googleTokenURL         = "https://oauth2.googleapis.com/token"
	jwtBearerGrantType     = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionLifetime = time.Hour
)

// FCMSignerConfig holds the service account material for the OAuth2
// JWT-bearer exchange. TokenURL is overridable for tests; empty means
// Google's production endpoint.
type FCMSignerConfig struct {
	ClientEmail   string
	PrivateKeyPEM string
	TokenURL      string
}

// FCMSigner builds an RS256 service-account assertion and exchanges it at the
// OAuth2 token endpoint. The exchanged access token, not the assertion, is
// the publisher credential.
type FCMSigner struct {
	key         *rsa.PrivateKey
	clientEmail string
	tokenURL    string
	httpClient  *http.Client
	now         func() time.Time
}

// NewFCMSigner parses the service account key immediately to fail fast on
// startup if the credentials are bad.
func NewFCMSigner(cfg FCMSignerConfig) (*FCMSigner, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, &CredentialError{
			Platform: relay.PlatformFCM,
			Op:       "key import",
			Err:      fmt.Errorf("failed to parse service account key: %w", err),
		}
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}

	return &FCMSigner{
		key:         key,
		clientEmail: cfg.ClientEmail,
		tokenURL:    tokenURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}, nil
}

// Generate signs the JWT-bearer assertion and exchanges it for an access
// token. A non-success response from the token endpoint is a CredentialError
// carrying the endpoint's status and body for diagnostics.
func (s *FCMSigner) Generate(ctx context.Context) (string, error) {
	now := s.now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   s.clientEmail,
		"scope": firebaseMessagingScope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	})

	signed, err := assertion.SignedString(s.key)
	if err != nil {
		return "", &CredentialError{Platform: relay.PlatformFCM, Op: "sign", Err: err}
	}

	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {signed},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &CredentialError{Platform: relay.PlatformFCM, Op: "exchange", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &CredentialError{Platform: relay.PlatformFCM, Op: "exchange", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CredentialError{Platform: relay.PlatformFCM, Op: "exchange", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &CredentialError{
			Platform: relay.PlatformFCM,
			Op:       "exchange",
			Err:      fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", &CredentialError{
			Platform: relay.PlatformFCM,
			Op:       "exchange",
			Err:      fmt.Errorf("malformed token response: %w", err),
		}
	}
	if tokenResp.AccessToken == "" {
		return "", &CredentialError{
			Platform: relay.PlatformFCM,
			Op:       "exchange",
			Err:      fmt.Errorf("token response carried no access_token"),
		}
	}
	return tokenResp.AccessToken, nil
}

func (s *FCMSigner) TTL() time.Duration { return fcmTokenTTL }
