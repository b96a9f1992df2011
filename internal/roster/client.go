// Package roster calls the external roster optimization service. Requests
// only reach it once the license gate has let them through.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	generatePath = "/generate"
	userAgent    = "StaffSched-Roster-Client/1.0"

	// maxErrorBody caps the upstream body kept on a ServiceError
	maxErrorBody = 4096
)

// ServiceError is a non-2xx answer from the roster service
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("roster service returned status %d", e.StatusCode)
}

// Client talks to the roster service over HTTP
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client whose transport is traced with otelhttp
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With(slog.String("component", "roster_client")),
	}
}

// Generate posts a scheduling request and returns the service's JSON answer
func (c *Client) Generate(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("roster payload is not valid JSON")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Roster request failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		c.logger.WarnContext(ctx, "Roster service returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("duration", time.Since(start)))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("roster service returned invalid JSON")
	}

	c.logger.InfoContext(ctx, "Roster generated",
		slog.Int("response_bytes", len(body)),
		slog.Duration("duration", time.Since(start)))

	return json.RawMessage(body), nil
}
