// Package upload posts single observations to a time-series channel endpoint
// using form-encoded requests.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultURL is the public channel update endpoint.
const DefaultURL = "https://api.thingspeak.com/update"

// DefaultTimeout bounds one request.
const DefaultTimeout = 15 * time.Second

// ErrUpload wraps every failed record upload.
var ErrUpload = errors.New("upload failed")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Channel    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("channel %s: unexpected status %d", e.Channel, e.StatusCode)
	}
	return fmt.Sprintf("channel %s: unexpected status %d: %s", e.Channel, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpload }

// Channel is one remote destination, authenticated by its own write key.
type Channel struct {
	Name   string
	APIKey string
}

// Record is the per-observation payload.
type Record struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Signal    int     `json:"signal"`
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	DeviceID  string  `json:"device_id,omitempty"` // omitted from the form when empty
}

// Values encodes r for ch. Keys sort as api_key, field1..field7, which is
// also the order url.Values.Encode writes them in.
func (r Record) Values(ch Channel) url.Values {
	v := url.Values{}
	v.Set("api_key", ch.APIKey)
	v.Set("field1", r.Name)
	v.Set("field2", r.Address)
	v.Set("field3", strconv.Itoa(r.Signal))
	v.Set("field4", r.Timestamp)
	v.Set("field5", strconv.FormatFloat(r.Latitude, 'f', -1, 64))
	v.Set("field6", strconv.FormatFloat(r.Longitude, 'f', -1, 64))
	if r.DeviceID != "" {
		v.Set("field7", r.DeviceID)
	}
	return v
}

// Client posts records. It is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient returns a client for endpoint. A nil httpClient gets
// DefaultTimeout.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

// Post sends one record. Any transport failure or non-2xx status is
// returned wrapped in ErrUpload; Post never retries.
func (c *Client) Post(ctx context.Context, ch Channel, rec Record) error {
	body := rec.Values(ch).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUpload, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: channel %s: %w", ErrUpload, ch.Name, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Channel: ch.Name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
