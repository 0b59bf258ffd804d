package poslicense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20 // 1 MB

	// ValidatePath is the server route installations post to.
	ValidatePath = "/api/licenses/validate"
)

// ValidateEnvelope is the JSON body exchanged on ValidatePath. The server
// answers 200 with Data on success and 403 with Message and Code on a
// rejection.
type ValidateEnvelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Warning string            `json:"warning,omitempty"`
	Code    string            `json:"code,omitempty"`
	Data    *ValidatedLicense `json:"data,omitempty"`
}

// NewValidateEnvelope converts an engine response to its wire form and the
// HTTP status to send it with.
func NewValidateEnvelope(resp *ValidateResponse) (int, ValidateEnvelope) {
	if !resp.Valid {
		return http.StatusForbidden, ValidateEnvelope{
			Message: resp.Message,
			Warning: resp.Warning,
			Code:    ReasonCode(resp.Reason),
		}
	}
	return http.StatusOK, ValidateEnvelope{
		Success: true,
		Message: resp.Message,
		Warning: resp.Warning,
		Data:    resp.License,
	}
}

// Client is used by a POS installation to validate its license against
// the license server.
type Client struct {
	serverURL  string
	httpClient *http.Client
	timeout    time.Duration // applied after all options
	userAgent  string
	hardwareID string
	idFile     string
}

// NewClient creates a client for the license server at serverURL
// (e.g. "https://license.example.com").
func NewClient(serverURL string, opts ...ClientOption) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		timeout:   defaultTimeout,
		userAgent: "cnw-pos-license-go/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// HardwareID returns the hardware id sent with validations. Without a
// pinned id it is loaded from (or first written to) the WithHardwareIDFile
// path, or else derived from the host.
func (c *Client) HardwareID() (string, error) {
	if c.hardwareID != "" {
		return c.hardwareID, nil
	}
	var (
		id  string
		err error
	)
	if c.idFile != "" {
		id, err = LoadOrCreateHardwareID(c.idFile)
	} else {
		id, err = GenerateHardwareID()
	}
	if err != nil {
		return "", fmt.Errorf("generate hardware id: %w", err)
	}
	c.hardwareID = id
	return id, nil
}

// Validate asks the server to validate licenseKey for this installation.
// A rejection is returned as a response with Valid=false; errors are
// reserved for transport and server failures.
func (c *Client) Validate(ctx context.Context, licenseKey string) (*ValidateResponse, error) {
	hardwareID, err := c.HardwareID()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ValidateRequest{LicenseKey: licenseKey, HardwareID: hardwareID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+ValidatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env ValidateEnvelope
	decodeErr := json.Unmarshal(body, &env)

	switch {
	case resp.StatusCode == http.StatusForbidden && decodeErr == nil:
		return &ValidateResponse{
			Valid:   false,
			Message: env.Message,
			Warning: env.Warning,
			Reason:  reasonFromCode(env.Code),
		}, nil
	case resp.StatusCode >= 400:
		return nil, parseError(resp.StatusCode, env, decodeErr, body)
	case decodeErr != nil:
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	case env.Data == nil:
		return nil, errors.New("decode response: missing license data")
	}
	return &ValidateResponse{
		Valid:   true,
		Message: env.Message,
		Warning: env.Warning,
		License: env.Data,
	}, nil
}

func parseError(statusCode int, env ValidateEnvelope, decodeErr error, body []byte) error {
	if decodeErr != nil {
		return &ServerError{
			StatusCode: statusCode,
			Code:       "UNKNOWN",
			Message:    string(body),
		}
	}
	return mapServerError(&ServerError{
		StatusCode: statusCode,
		Code:       env.Code,
		Message:    env.Message,
	})
}
