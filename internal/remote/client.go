// Package remote is the HTTP client for the remote authority.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

// DefaultTimeout bounds a single request when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Client implements zt.Authority over HTTP.
type Client struct {
	baseURL  *url.URL
	token    string
	deviceID string
	http     *http.Client
	logger   zt.Logger
}

var _ zt.Authority = (*Client)(nil)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Token    string
	DeviceID string
	Timeout  time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
	Logger     zt.Logger
}

// NewClient validates opts and creates a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("authority URL is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid authority URL %q: %w", opts.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid authority URL %q: scheme must be http or https", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zt.NewNopLogger()
	}
	return &Client{baseURL: u, token: opts.Token, deviceID: opts.DeviceID, http: hc, logger: logger}, nil
}

func (c *Client) Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	var resp protocol.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UploadLocations(ctx context.Context, batch *protocol.LocationBatch) (*protocol.LocationBatchResponse, error) {
	var resp protocol.LocationBatchResponse
	if err := c.do(ctx, http.MethodPost, "/locations/batch", batch, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListTrips(ctx context.Context) ([]protocol.TripData, error) {
	var trips []protocol.TripData
	if err := c.do(ctx, http.MethodGet, "/trips", nil, &trips); err != nil {
		return nil, err
	}
	return trips, nil
}

// CreateTrip stores one trip directly, outside a sync batch.
func (c *Client) CreateTrip(ctx context.Context, trip *protocol.TripData) (*protocol.TripData, error) {
	var out protocol.TripData
	if err := c.do(ctx, http.MethodPost, "/trips", trip, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTrip replaces one trip directly.
func (c *Client) UpdateTrip(ctx context.Context, id int64, trip *protocol.TripData) (*protocol.TripData, error) {
	var out protocol.TripData
	if err := c.do(ctx, http.MethodPut, "/trips/"+strconv.FormatInt(id, 10), trip, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTrip deletes one trip directly.
func (c *Client) DeleteTrip(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/trips/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) PassportControl(ctx context.Context) (*protocol.PassportControlData, error) {
	var pc protocol.PassportControlData
	if err := c.do(ctx, http.MethodGet, "/passport-control", nil, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

func (c *Client) RegisterDevice(ctx context.Context, reg *protocol.DeviceRegistration) error {
	r := *reg
	if r.DeviceID == "" {
		r.DeviceID = c.deviceID
	}
	return c.do(ctx, http.MethodPost, "/device/register", &r, nil)
}

func (c *Client) UnregisterDevice(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/device/unregister", &protocol.DeviceRegistration{DeviceID: deviceID}, nil)
}

func (c *Client) Ping(ctx context.Context) error {
	var h protocol.HealthResponse
	return c.do(ctx, http.MethodGet, "/health", nil, &h)
}

// do sends one JSON request. Network failures, timeouts, 408, 429 and 5xx
// are transient; any other non-2xx status is a *zt.RejectionError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("authority request failed", "method", method, "path", path, "error", err)
		return zt.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()
	c.logger.Debug("authority request", "method", method, "path", path, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	// A body cut short is a lost response, not a refusal.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zt.Transient(fmt.Errorf("reading %s %s response: %w", method, path, err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &zt.RejectionError{Status: resp.StatusCode, Code: "invalid_response", Message: fmt.Sprintf("decoding %s %s: %v", method, path, err)}
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env struct {
		Error protocol.ErrorBody `json:"error"`
	}
	code, message := "", strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil && env.Error.Code != "" {
		code, message = env.Error.Code, env.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	if transientStatus(resp.StatusCode) {
		return zt.Transient(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, message))
	}
	if code == "" {
		code = "http_" + strconv.Itoa(resp.StatusCode)
	}
	return &zt.RejectionError{Status: resp.StatusCode, Code: code, Message: message}
}

func transientStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
