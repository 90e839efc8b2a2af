package auth

import (
	"testing"
	"time"

	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testAuthenticator() *Authenticator {
	cfg := config.NewDefault()
	cfg.Auth.JWTSecret = "jwt-test-secret"
	cfg.Auth.HMACSecret = "hmac-test-secret"
	cfg.Service.AdminKey = "super-secret-admin-key"
	return New(nil, cfg, logrus.New())
}

func TestFingerprintIsStableAndDistinct(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-a")
	c := Fingerprint("token-b")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHashTokenRoundTrips(t *testing.T) {
	hash, err := HashToken("raw-device-token")
	require.NoError(t, err)
	assert.NotEqual(t, "raw-device-token", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("raw-device-token")))
}

func TestAdminKeyConstantTimeCompare(t *testing.T) {
	a := testAuthenticator()
	assert.True(t, a.CheckAdminKey("super-secret-admin-key"))
	assert.False(t, a.CheckAdminKey("wrong-key"))
	assert.False(t, a.CheckAdminKey(""))
}

func TestAdminJWTRoundTrip(t *testing.T) {
	a := testAuthenticator()
	tok, err := a.IssueAdminJWT("admin@example.com")
	require.NoError(t, err)

	subject, err := a.VerifyAdminJWT(tok)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", subject)
}

func TestAdminJWTRejectsTamperedToken(t *testing.T) {
	a := testAuthenticator()
	tok, err := a.IssueAdminJWT("admin@example.com")
	require.NoError(t, err)

	_, err = a.VerifyAdminJWT(tok + "x")
	assert.Error(t, err)
}

func TestCommandSignatureVerifiesAndRejectsTamper(t *testing.T) {
	a := testAuthenticator()
	ts := time.Unix(1700000000, 0)
	sig := a.SignCommand("req-1", "device-1", "install_apk", ts)

	assert.True(t, a.VerifyCommand("req-1", "device-1", "install_apk", ts, sig))
	assert.False(t, a.VerifyCommand("req-1", "device-1", "reboot", ts, sig))
	assert.False(t, a.VerifyCommand("req-2", "device-1", "install_apk", ts, sig))
}
