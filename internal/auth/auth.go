// Package auth implements the control plane's three credential types
// (spec §4.1): device bearer tokens, an admin JWT, and HMAC-signed
// push command payloads. It follows the teacher's jwx/v2-based token
// handling (internal/auth/authn) but trades the teacher's RSA/ECDSA
// CA-issued certificates for a single HS256 shared secret, matching
// this spec's simpler single-tenant admin model.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const adminJWTTTL = 7 * 24 * time.Hour

// Authenticator is an explicit, Application-owned collaborator (spec
// §9: no package-level singletons) bundling device-token, admin-JWT,
// and HMAC verification.
type Authenticator struct {
	devices    *store.DeviceRepository
	log        logrus.FieldLogger
	jwtSecret  []byte
	hmacSecret []byte
	adminKey   string
}

func New(devices *store.DeviceRepository, cfg *config.Config, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{
		devices:    devices,
		log:        log,
		jwtSecret:  []byte(cfg.Auth.JWTSecret.Raw()),
		hmacSecret: []byte(cfg.Auth.HMACSecret.Raw()),
		adminKey:   cfg.Service.AdminKey.Raw(),
	}
}

// Fingerprint is the SHA-256 hex digest of a raw bearer token, used as
// the fast-path lookup key so device auth never needs to bcrypt-
// compare against every row (spec §4.1).
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashToken bcrypt-hashes a freshly issued device token for storage.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing device token: %w", err)
	}
	return string(h), nil
}

// AuthenticateDevice resolves a raw bearer token to its Device row.
// The fingerprint index is the primary path; devices enrolled before
// fingerprint backfill fall back to a full bcrypt scan and are
// backfilled on success, matching the legacy-migration path in spec
// §4.1. A bcrypt mismatch on the fingerprint-indexed row is reported
// with the distinct "token_mismatch" reason so token rotation bugs
// are distinguishable from fingerprint collisions in logs.
func (a *Authenticator) AuthenticateDevice(ctx context.Context, token string) (*model.Device, error) {
	if token == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing device token")
	}

	fp := Fingerprint(token)
	d, err := a.devices.GetByTokenFingerprint(ctx, fp)
	if err == nil {
		if d.TokenRevokedAt != nil {
			return nil, apperr.New(apperr.Unauthorized, "device token revoked")
		}
		if bcrypt.CompareHashAndPassword([]byte(d.TokenHash), []byte(token)) != nil {
			return nil, apperr.WithReason(apperr.Unauthorized, "token_mismatch", "device token does not match stored hash")
		}
		return d, nil
	}
	if apperr.KindOf(err) != apperr.Unauthorized && apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	legacy, listErr := a.devices.ListWithoutFingerprint(ctx)
	if listErr != nil {
		return nil, listErr
	}
	for i := range legacy {
		candidate := &legacy[i]
		if candidate.TokenRevokedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(candidate.TokenHash), []byte(token)) == nil {
			if backfillErr := a.devices.BackfillFingerprint(ctx, candidate.ID, fp); backfillErr != nil {
				a.log.WithError(backfillErr).WithField("device_id", candidate.ID).Warn("failed to backfill token fingerprint")
			}
			return candidate, nil
		}
	}

	return nil, apperr.New(apperr.Unauthorized, "unknown device token")
}

// CheckAdminKey compares an admin key candidate in constant time.
func (a *Authenticator) CheckAdminKey(candidate string) bool {
	if a.adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.adminKey), []byte(candidate)) == 1
}

// IssueAdminJWT mints a 7-day HS256 token for an authenticated admin
// (spec §4.1).
func (a *Authenticator) IssueAdminJWT(subject string) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(adminJWTTTL)).
		Claim("role", "admin").
		Build()
	if err != nil {
		return "", fmt.Errorf("building admin jwt: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("signing admin jwt: %w", err)
	}
	return string(signed), nil
}

// VerifyAdminJWT validates signature and expiry and returns the subject.
func (a *Authenticator) VerifyAdminJWT(raw string) (string, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, a.jwtSecret), jwt.WithValidate(true))
	if err != nil {
		return "", apperr.WithReason(apperr.Unauthorized, "invalid_jwt", "admin token invalid or expired")
	}
	return tok.Subject(), nil
}

// SignCommand produces the HMAC-SHA256 signature over the canonical
// "request_id:device_id:action:timestamp" string (spec §4.5), used to
// authenticate pushed commands end to end to the device agent.
func (a *Authenticator) SignCommand(requestID, deviceID, action string, ts time.Time) string {
	payload := canonicalCommandPayload(requestID, deviceID, action, ts)
	mac := hmac.New(sha256.New, a.hmacSecret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCommand reports whether sig is the valid HMAC for the given
// command fields, using constant-time comparison.
func (a *Authenticator) VerifyCommand(requestID, deviceID, action string, ts time.Time, sig string) bool {
	expected := a.SignCommand(requestID, deviceID, action, ts)
	decodedExpected, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decodedExpected, decodedSig) == 1
}

func canonicalCommandPayload(requestID, deviceID, action string, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", requestID, deviceID, action, ts.UTC().Unix())
}
