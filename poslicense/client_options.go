package poslicense

import (
	"net/http"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
// Its Timeout will be overridden by WithTimeout (or the default 10s).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *Client) {
		o.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Default is 10 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *Client) {
		o.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with requests.
func WithUserAgent(ua string) ClientOption {
	return func(o *Client) {
		o.userAgent = ua
	}
}

// WithHardwareID pins the hardware id instead of deriving it from the host.
func WithHardwareID(id string) ClientOption {
	return func(o *Client) {
		o.hardwareID = id
	}
}

// WithHardwareIDFile keeps the generated hardware id in path so it stays
// the same across hardware changes. Ignored when WithHardwareID is set.
func WithHardwareIDFile(path string) ClientOption {
	return func(o *Client) {
		o.idFile = path
	}
}
