package credentials_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/credentials"
)

func newServiceAccountKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

func TestFCMSigner_Exchange(t *testing.T) {
	key, pemKey := newServiceAccountKey(t)

	var gotGrantType, gotAssertion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrantType = r.PostFormValue("grant_type")
		gotAssertion = r.PostFormValue("assertion")
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.exchanged-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	signer, err := credentials.NewFCMSigner(credentials.FCMSignerConfig{
		ClientEmail:   "relay@test-project.iam.gserviceaccount.com",
		PrivateKeyPEM: pemKey,
		TokenURL:      server.URL,
	})
	require.NoError(t, err)

	credential, err := signer.Generate(context.Background())
	require.NoError(t, err)

	t.Run("Exchanged access token is the credential", func(t *testing.T) {
		assert.Equal(t, "ya29.exchanged-token", credential)
	})

	t.Run("JWT-bearer grant carries a signed assertion", func(t *testing.T) {
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", gotGrantType)

		parsed, err := jwt.Parse(gotAssertion, func(token *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		require.True(t, parsed.Valid)

		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, "relay@test-project.iam.gserviceaccount.com", claims["iss"])
		assert.Equal(t, "https://www.googleapis.com/auth/firebase.messaging", claims["scope"])
		assert.Equal(t, server.URL, claims["aud"])

		iat := int64(claims["iat"].(float64))
		exp := int64(claims["exp"].(float64))
		assert.Equal(t, int64(3600), exp-iat)
	})

	t.Run("TTL sits inside the issued token lifetime", func(t *testing.T) {
		assert.Equal(t, 55*time.Minute, signer.TTL())
		assert.Less(t, signer.TTL(), time.Hour)
	})
}

func TestFCMSigner_ExchangeFailures(t *testing.T) {
	_, pemKey := newServiceAccountKey(t)

	t.Run("Non-success response carries status and body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer server.Close()

		signer, err := credentials.NewFCMSigner(credentials.FCMSignerConfig{
			ClientEmail:   "relay@test.iam.gserviceaccount.com",
			PrivateKeyPEM: pemKey,
			TokenURL:      server.URL,
		})
		require.NoError(t, err)

		_, err = signer.Generate(context.Background())
		require.Error(t, err)

		var credErr *credentials.CredentialError
		require.ErrorAs(t, err, &credErr)
		assert.Equal(t, "exchange", credErr.Op)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("Missing access_token is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
		}))
		defer server.Close()

		signer, err := credentials.NewFCMSigner(credentials.FCMSignerConfig{
			ClientEmail:   "relay@test.iam.gserviceaccount.com",
			PrivateKeyPEM: pemKey,
			TokenURL:      server.URL,
		})
		require.NoError(t, err)

		_, err = signer.Generate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access_token")
	})

	t.Run("Malformed key never constructs a signer", func(t *testing.T) {
		_, err := credentials.NewFCMSigner(credentials.FCMSignerConfig{
			ClientEmail:   "relay@test.iam.gserviceaccount.com",
			PrivateKeyPEM: "garbage",
		})
		require.Error(t, err)

		var credErr *credentials.CredentialError
		require.ErrorAs(t, err, &credErr)
		assert.Equal(t, "key import", credErr.Op)
	})
}
