package dispatch

import (
	"context"
	"testing"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/auth"
	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeviceGetter is a minimal in-memory deviceGetter.
type fakeDeviceGetter struct {
	devices map[string]*model.Device
}

func (f *fakeDeviceGetter) Get(_ context.Context, id string) (*model.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "device not found")
	}
	return d, nil
}

// fakeCommandStore is a minimal in-memory commandStore keyed by
// RequestID, mirroring store.CommandRepository's write-through
// idempotency contract without a database.
type fakeCommandStore struct {
	records map[string]*model.CommandRecord
	results map[string]*model.CommandResult
}

func newFakeCommandStore() *fakeCommandStore {
	return &fakeCommandStore{records: map[string]*model.CommandRecord{}, results: map[string]*model.CommandResult{}}
}

func (f *fakeCommandStore) Get(_ context.Context, requestID string) (*model.CommandRecord, error) {
	rec, ok := f.records[requestID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "command not found")
	}
	return rec, nil
}

func (f *fakeCommandStore) WriteThrough(_ context.Context, rec *model.CommandRecord) (*model.CommandRecord, error) {
	if existing, ok := f.records[rec.RequestID]; ok {
		return existing, nil
	}
	f.records[rec.RequestID] = rec
	return rec, nil
}

func (f *fakeCommandStore) RecordResult(_ context.Context, res *model.CommandResult) (*model.CommandResult, error) {
	if existing, ok := f.results[res.RequestID]; ok {
		return existing, nil
	}
	f.results[res.RequestID] = res
	return res, nil
}

// countingProvider counts Send calls so tests can assert a replayed
// Dispatch never pushes twice (spec §4.5, §8 scenario 2).
type countingProvider struct {
	calls int
}

func (p *countingProvider) Send(_ context.Context, _ string, _ map[string]string) (string, int, error) {
	p.calls++
	return "msg-1", 200, nil
}

func newTestDispatcher(provider PushProvider, devices map[string]*model.Device, commands *fakeCommandStore) *Dispatcher {
	cfg := &config.Config{}
	cfg.Auth.HMACSecret = config.SecureString("test-hmac-secret")
	signer := auth.New(nil, cfg, logrus.New())
	return &Dispatcher{
		provider: provider,
		devices:  &fakeDeviceGetter{devices: devices},
		commands: commands,
		signer:   signer,
		log:      logrus.New(),
	}
}

// TestDispatchIsIdempotentOnReplay covers spec §8 scenario 2: a
// second Dispatch call with the same request_id must return the
// ledger row already on disk and must not invoke the push provider
// again.
func TestDispatchIsIdempotentOnReplay(t *testing.T) {
	devices := map[string]*model.Device{
		"device-1": {ID: "device-1", FCMToken: "fcm-token-1"},
	}
	commands := newFakeCommandStore()
	provider := &countingProvider{}
	d := newTestDispatcher(provider, devices, commands)

	ctx := context.Background()
	first, err := d.Dispatch(ctx, "req-1", "device-1", "relaunch_unity", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)

	second, err := d.Dispatch(ctx, "req-1", "device-1", "relaunch_unity", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls, "replayed dispatch must not call the push provider again")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("replayed dispatch returned a different ledger row (-first +second):\n%s", diff)
	}
}

// TestDispatchRejectsDeviceWithoutPushToken covers the FCM-token
// precondition guard ahead of a push attempt.
func TestDispatchRejectsDeviceWithoutPushToken(t *testing.T) {
	devices := map[string]*model.Device{
		"device-1": {ID: "device-1"},
	}
	commands := newFakeCommandStore()
	provider := &countingProvider{}
	d := newTestDispatcher(provider, devices, commands)

	_, err := d.Dispatch(context.Background(), "req-1", "device-1", "relaunch_unity", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	assert.Zero(t, provider.calls)
}
