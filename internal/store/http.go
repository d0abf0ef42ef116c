package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"minwondesk/internal/domain"
)

// HTTPStore posts complaints as JSON to a backend endpoint such as
// http://backend/api/complaints.
type HTTPStore struct {
	endpoint string
	client   *http.Client
}

func NewHTTPStore(endpoint string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (s *HTTPStore) Submit(ctx context.Context, complaint domain.Complaint) error {
	if s.endpoint == "" {
		return fmt.Errorf("store: complaint endpoint is not configured")
	}
	body, err := json.Marshal(complaint)
	if err != nil {
		return fmt.Errorf("store: encode complaint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if complaint.ID != "" {
		req.Header.Set("Idempotency-Key", complaint.ID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("store: post complaint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("store: backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
