package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPEnrollment talks to the server's delivery-target enrollment API.
type HTTPEnrollment struct {
	BaseURL    string
	HTTPClient *http.Client
}

type enrollmentRequest struct {
	Endpoint string `json:"endpoint"`
	P256DH   string `json:"p256dh,omitempty"`
	Auth     string `json:"auth,omitempty"`
	OwnerID  string `json:"owner_id,omitempty"`
}

func (e *HTTPEnrollment) client() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

// Register creates or replaces the delivery target, associating ownerID when
// non-empty.
func (e *HTTPEnrollment) Register(ctx context.Context, sub *PlatformSubscription, ownerID string) error {
	body := enrollmentRequest{
		Endpoint: sub.Endpoint,
		P256DH:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
		OwnerID:  ownerID,
	}
	return e.do(ctx, http.MethodPut, body)
}

// Deregister deletes the target, or only dissociates ownerID when non-empty.
func (e *HTTPEnrollment) Deregister(ctx context.Context, endpoint, ownerID string) error {
	body := enrollmentRequest{
		Endpoint: endpoint,
		OwnerID:  ownerID,
	}
	return e.do(ctx, http.MethodDelete, body)
}

func (e *HTTPEnrollment) do(ctx context.Context, method string, body enrollmentRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode enrollment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.BaseURL+"/api/push/targets", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client().Do(req)
	if err != nil {
		return fmt.Errorf("enrollment request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("enrollment request failed: status %d", resp.StatusCode)
	}
	return nil
}
