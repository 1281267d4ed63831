// Package gateway provides the HTTP client for the Mediola gateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport and protocol failures surfaced to callers.
var (
	// ErrUnreachable covers connection failures and malformed responses.
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrTimeout is returned when a request exceeds the configured timeout.
	ErrTimeout = errors.New("gateway timeout")
	// ErrAuthRejected is returned when the gateway refuses the credentials.
	ErrAuthRejected = errors.New("gateway rejected credentials")
	// ErrCommandRejected is returned when the gateway answers a request
	// with an error body that is not credential-related.
	ErrCommandRejected = errors.New("gateway rejected request")
)

// Gateway response body prefixes.
const (
	successPrefix = "{XC_SUC}"
	errorPrefix   = "{XC_ERR}"
)

// Query parameter names of the gateway's command endpoint.
const (
	paramUser     = "XC_USER"
	paramPassword = "XC_PASS"
	paramFunction = "XC_FNC"

	functionGetStates = "GetStates"
	functionSendSC    = "SendSC"
)

// Client talks to one Mediola gateway over its HTTP command endpoint.
// Each operation is a single GET request; no retries happen at this layer.
type Client struct {
	baseURL     string
	username    string
	password    string
	deviceTypes map[string]bool
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewClient creates a new gateway client from the application configuration.
func NewClient(cfg *config.Config) *Client {
	deviceTypes := make(map[string]bool, len(cfg.Gateway.DeviceTypes))
	for _, deviceType := range cfg.Gateway.DeviceTypes {
		deviceTypes[deviceType] = true
	}

	return &Client{
		baseURL:     fmt.Sprintf("http://%s/command", cfg.Gateway.Host),
		username:    cfg.Gateway.Username,
		password:    cfg.Gateway.Password,
		deviceTypes: deviceTypes,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Gateway.RequestTimeoutSeconds) * time.Second,
		},
		logger: log.With().Str("component", "gateway").Logger(),
	}
}

// FetchStates requests GetStates and returns one raw record per device
// whose type matches the configured filter.
func (c *Client) FetchStates(ctx context.Context) ([]domain.RawState, error) {
	params := url.Values{}
	params.Set(paramFunction, functionGetStates)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var entries []domain.RawState
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, fmt.Errorf("%w: malformed GetStates response: %v", ErrUnreachable, err)
	}

	shutters := make([]domain.RawState, 0, len(entries))
	for _, entry := range entries {
		if c.deviceTypes[entry.Type] {
			shutters = append(shutters, entry)
		}
	}

	c.logger.Debug().
		Int("total", len(entries)).
		Int("shutters", len(shutters)).
		Msg("Fetched gateway states")

	return shutters, nil
}

// SendCommand requests SendSC with the encoded command payload.
func (c *Client) SendCommand(ctx context.Context, deviceType, payload string) error {
	params := url.Values{}
	params.Set(paramFunction, functionSendSC)
	params.Set("type", deviceType)
	params.Set("data", payload)

	if _, err := c.get(ctx, params); err != nil {
		return err
	}

	c.logger.Debug().
		Str("type", deviceType).
		Str("data", payload).
		Msg("Command accepted by gateway")

	return nil
}

// Probe performs one GetStates round-trip and returns the number of
// matching devices. Used to validate connectivity and credentials at setup.
func (c *Client) Probe(ctx context.Context) (int, error) {
	entries, err := c.FetchStates(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// get performs one authenticated GET against the command endpoint and
// returns the response body with the success prefix stripped.
func (c *Client) get(ctx context.Context, params url.Values) (string, error) {
	params.Set(paramUser, c.username)
	params.Set(paramPassword, c.password)

	requestURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create gateway request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Closing response body in defer, error not critical
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(err)
	}

	body := strings.TrimSpace(string(raw))
	if strings.HasPrefix(body, errorPrefix) {
		return "", classifyGatewayError(strings.TrimPrefix(body, errorPrefix))
	}
	if !strings.HasPrefix(body, successPrefix) {
		return "", fmt.Errorf("%w: unexpected response %q", ErrUnreachable, truncate(body, 64))
	}

	return strings.TrimPrefix(body, successPrefix), nil
}

// classifyTransportError maps a transport failure onto the error taxonomy.
func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// classifyGatewayError maps an {XC_ERR} body onto the error taxonomy.
// The vendor does not document error texts; credential problems are
// recognized by keyword so they are not mistaken for transient failures.
func classifyGatewayError(text string) error {
	lower := strings.ToLower(text)
	for _, keyword := range []string{"auth", "access", "denied", "pass"} {
		if strings.Contains(lower, keyword) {
			return fmt.Errorf("%w: %s", ErrAuthRejected, strings.TrimSpace(text))
		}
	}
	return fmt.Errorf("%w: %s", ErrCommandRejected, strings.TrimSpace(text))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
