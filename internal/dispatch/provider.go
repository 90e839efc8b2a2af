// Package dispatch implements the command dispatcher (spec §4.5): a
// PushProvider abstraction over FCM HTTP v1, an idempotent
// write-through ledger keyed by request_id, and HMAC-signed command
// payloads. The FCM client follows the teacher's alert_exporter
// pattern of a small HTTP client with a bounded timeout
// (internal/alert_exporter/alertmanager_utils.go), adapted from
// Alertmanager's webhook API to FCM's send endpoint. Each send is a
// single attempt; nothing in this package retries.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// PushProvider is the seam between the dispatcher and a concrete push
// transport; FCMProvider is the only production implementation.
type PushProvider interface {
	Send(ctx context.Context, fcmToken string, payload map[string]string) (providerMessageID string, httpCode int, err error)
}

// FCMProvider sends data-only messages through FCM's HTTP v1 API,
// authenticating via a Google service account
// (golang.org/x/oauth2/google), mirroring the teacher's reliance on
// golang.org/x/oauth2 transitively through its Kubernetes client
// tooling but put to direct use here for push auth.
type FCMProvider struct {
	projectID  string
	tokenSrc   oauth2.TokenSource
	httpClient *http.Client
}

func NewFCMProvider(ctx context.Context, serviceAccountJSON []byte, projectID string) (*FCMProvider, error) {
	cfg, err := google.JWTConfigFromJSON(serviceAccountJSON, "https://www.googleapis.com/auth/firebase.messaging")
	if err != nil {
		return nil, fmt.Errorf("parsing firebase service account: %w", err)
	}
	return &FCMProvider{
		projectID:  projectID,
		tokenSrc:   cfg.TokenSource(ctx),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type fcmMessage struct {
	Message struct {
		Token string            `json:"token"`
		Data  map[string]string `json:"data"`
	} `json:"message"`
}

type fcmResponse struct {
	Name string `json:"name"`
}

func (f *FCMProvider) Send(ctx context.Context, fcmToken string, payload map[string]string) (string, int, error) {
	token, err := f.tokenSrc.Token()
	if err != nil {
		return "", 0, fmt.Errorf("acquiring firebase oauth2 token: %w", err)
	}

	var body fcmMessage
	body.Message.Token = fcmToken
	body.Message.Data = payload
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", 0, fmt.Errorf("encoding fcm message: %w", err)
	}

	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", f.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("sending fcm message: %w", err)
	}
	defer resp.Body.Close()

	var decoded fcmResponse
	_ = json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("fcm send failed with status %d", resp.StatusCode)
	}

	return decoded.Name, resp.StatusCode, nil
}
