package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/auth"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/sirupsen/logrus"
)

// deviceGetter is the slice of store.DeviceRepository the dispatcher
// needs; narrowing to an interface lets tests exercise Dispatch
// against an in-memory fake instead of a live Postgres connection.
type deviceGetter interface {
	Get(ctx context.Context, id string) (*model.Device, error)
}

// commandStore is the slice of store.CommandRepository the dispatcher
// needs, for the same reason.
type commandStore interface {
	Get(ctx context.Context, requestID string) (*model.CommandRecord, error)
	WriteThrough(ctx context.Context, rec *model.CommandRecord) (*model.CommandRecord, error)
	RecordResult(ctx context.Context, res *model.CommandResult) (*model.CommandResult, error)
}

// Dispatcher pushes signed commands to devices and write-throughs the
// idempotent ledger after the provider call completes, never before
// (spec §4.5). It is an explicit Application-owned collaborator.
type Dispatcher struct {
	provider PushProvider
	devices  deviceGetter
	commands commandStore
	signer   *auth.Authenticator
	log      logrus.FieldLogger
}

func New(provider PushProvider, devices *store.DeviceRepository, commands *store.CommandRepository, signer *auth.Authenticator, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{provider: provider, devices: devices, commands: commands, signer: signer, log: log}
}

// Params is the action-specific payload merged into the push message;
// it is not covered by the HMAC signature.
type Params map[string]string

// Dispatch sends action to device, idempotently, keyed by requestID
// (spec §3, §4.5). If requestID has already been recorded, the
// existing ledger row is returned and the provider is not called
// again — avoiding a duplicate push on retry.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID, deviceID, action string, params Params) (*model.CommandRecord, error) {
	if existing, err := d.commands.Get(ctx, requestID); err == nil {
		return existing, nil
	} else if apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	dev, err := d.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.FCMToken == "" {
		return nil, apperr.New(apperr.Conflict, "device has no registered push token")
	}

	ts := time.Now().UTC()
	sig := d.signer.SignCommand(requestID, deviceID, action, ts)

	payload := map[string]string{
		"request_id": requestID,
		"action":     action,
		"timestamp":  fmt.Sprintf("%d", ts.Unix()),
		"signature":  sig,
	}
	for k, v := range params {
		payload[k] = v
	}

	start := time.Now()
	messageID, httpCode, sendErr := d.provider.Send(ctx, dev.FCMToken, payload)
	latency := time.Since(start).Milliseconds()

	rec := &model.CommandRecord{
		RequestID:         requestID,
		DeviceID:          deviceID,
		Action:            action,
		TsIssued:          ts,
		PayloadHash:       payloadHash(payload),
		ProviderMessageID: messageID,
		LatencyMs:         &latency,
		Status:            model.CommandSent,
	}
	if httpCode != 0 {
		rec.HTTPCode = &httpCode
	}
	if sendErr != nil {
		rec.Status = model.CommandFailed
		d.log.WithError(sendErr).WithField("device_id", deviceID).Warn("push dispatch failed")
	}

	return d.commands.WriteThrough(ctx, rec)
}

// RecordResult stores the device's action-result callback, first
// write wins per the adopted idempotency contract (spec §9).
func (d *Dispatcher) RecordResult(ctx context.Context, requestID, deviceID, action string, outcome model.CommandOutcome, message string) (*model.CommandResult, error) {
	res := &model.CommandResult{
		RequestID:  requestID,
		DeviceID:   deviceID,
		Action:     action,
		Outcome:    outcome,
		Message:    message,
		FinishedAt: time.Now().UTC(),
	}
	return d.commands.RecordResult(ctx, res)
}

// SignedDownloadURL builds a time-stamped, HMAC-authenticated download
// link for an install_apk command, reusing the same command signature
// scheme so a device can validate the link came from this control
// plane.
func (d *Dispatcher) SignedDownloadURL(baseURL, apkVersionID, requestID, deviceID string) string {
	ts := time.Now().UTC()
	sig := d.signer.SignCommand(requestID, deviceID, "install_apk", ts)
	return fmt.Sprintf("%s/v1/apks/%s/download?request_id=%s&ts=%d&sig=%s", baseURL, apkVersionID, requestID, ts.Unix(), sig)
}

func payloadHash(payload map[string]string) string {
	encoded, _ := json.Marshal(payload)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
