package denylist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single list download.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPSource downloads the list as a JSON array of address strings.
type HTTPSource struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource returns a Source for url, authenticating with the x-api-key
// header. A nil client gets DefaultHTTPTimeout.
func NewHTTPSource(url, apiKey string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPSource{url: url, apiKey: apiKey, httpClient: client}
}

// Fetch implements Source. An empty body yields an empty list. Array
// elements that are not strings are skipped.
func (s *HTTPSource) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	return ParseList(body)
}

// ParseList decodes a JSON array payload.
func ParseList(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode list: %w", ErrFetch, err)
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		// null decodes to "" without error
		if err := json.Unmarshal(r, &s); err != nil || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
