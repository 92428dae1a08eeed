package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSink submits signed transfers to a custody endpoint over HTTP.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink creates a sink posting to the given endpoint.
func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type sinkResponse struct {
	Status string `json:"status"`
	TxRef  string `json:"tx_ref"`
	Error  string `json:"error,omitempty"`
}

// Submit implements Sink.
func (s *HTTPSink) Submit(ctx context.Context, transfer SignedTransfer) (TxRef, error) {
	payload, err := json.Marshal(transfer)
	if err != nil {
		return "", fmt.Errorf("marshal signed transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read custody response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("custody endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded sinkResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode custody response: %w", err)
	}
	if decoded.Status != "ok" {
		return "", fmt.Errorf("custody rejected transfer: %s", decoded.Error)
	}
	return TxRef(decoded.TxRef), nil
}
