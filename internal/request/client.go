// Package request performs the plugin's HTTP calls: one-shot JSON requests
// for non-idempotent operations and a GET path with exponential backoff for
// resolution-style calls.
package request

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/interledgerx/plugin-bells/internal/ledger"
	"go.uber.org/zap"
)

const (
	backoffMin = 1000 * time.Millisecond
	backoffMax = 30000 * time.Millisecond

	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 1 << 20
)

// SleepFunc waits d or returns early with the context's error. Tests inject
// a recorder here to assert the backoff sequence.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configure one client from the plugin's credentials.
type Options struct {
	Username string
	Password string
	Cert     []byte
	Key      []byte
	CA       []byte
	// Timeout bounds a single HTTP attempt, not the retry loop.
	Timeout time.Duration
	// OnRetry is invoked once per backoff wait, if set.
	OnRetry func()
}

// Client is an HTTP client bound to one set of ledger credentials.
type Client struct {
	hc      *http.Client
	tlsConf *tls.Config
	onRetry func()
	logger  *zap.SugaredLogger
	sleep   SleepFunc

	mu       sync.RWMutex
	username string
	password string
}

func New(opts Options, logger *zap.SugaredLogger) (*Client, error) {
	tlsConf, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConf,
	}

	return &Client{
		hc:       &http.Client{Timeout: timeout, Transport: transport},
		tlsConf:  tlsConf,
		onRetry:  opts.OnRetry,
		logger:   logger,
		sleep:    sleepContext,
		username: opts.Username,
		password: opts.Password,
	}, nil
}

func buildTLSConfig(opts Options) (*tls.Config, error) {
	if len(opts.Cert) == 0 && len(opts.Key) == 0 && len(opts.CA) == 0 {
		return nil, nil
	}
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(opts.Cert) > 0 || len(opts.Key) > 0 {
		cert, err := tls.X509KeyPair(opts.Cert, opts.Key)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	if len(opts.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(opts.CA) {
			return nil, errors.New("invalid CA bundle")
		}
		conf.RootCAs = pool
	}
	return conf, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TLSConfig exposes the client TLS material for the websocket dialer.
func (c *Client) TLSConfig() *tls.Config { return c.tlsConf }

// SetUsername fills in the username resolved from the account resource.
// Basic auth is only attached once both username and password are known.
func (c *Client) SetUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

// BasicAuth reports the credentials used for authenticated requests.
func (c *Client) BasicAuth() (username, password string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username, c.password, c.username != "" && c.password != ""
}

// JSON performs a one-shot JSON request. A non-2xx response is returned as a
// *ledger.ExternalError carrying status and body; the caller owns any retry
// policy.
func (c *Client) JSON(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response from %s: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, &ledger.ExternalError{
			Message: fmt.Sprintf("remote error from %s", url),
			Status:  resp.StatusCode,
			Body:    string(payload),
		}
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return resp.StatusCode, nil
}

// Text performs a one-shot request with a plain-text body and returns the
// raw response. Status interpretation is left to the caller.
func (c *Client) Text(ctx context.Context, method, url, body string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response from %s: %w", url, err)
	}
	return resp.StatusCode, string(payload), nil
}

// GetRetry performs a GET and retries transient failures indefinitely with
// exponential backoff: 1000ms, then ×1.5 per attempt, capped at 30000ms, no
// jitter. A 404 is structural (the resource does not exist) and returns
// immediately; every other failure waits and retries until the context
// expires. Only resolution-style idempotent calls may use this path.
func (c *Client) GetRetry(ctx context.Context, url, failureMessage string, out any) error {
	delay := backoffMin
	for attempt := 1; ; attempt++ {
		status, err := c.JSON(ctx, http.MethodGet, url, nil, out)
		if err == nil {
			return nil
		}
		if status == http.StatusNotFound {
			return fmt.Errorf("%s: %w", failureMessage, ledger.ErrAccountNotFound)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", failureMessage, ctx.Err())
		}

		c.logger.Debugw("request failed, retrying",
			"url", url,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if c.onRetry != nil {
			c.onRetry()
		}
		if serr := c.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w", failureMessage, serr)
		}
		delay = nextDelay(delay)
	}
}

func nextDelay(d time.Duration) time.Duration {
	d = d * 3 / 2
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

func (c *Client) authorize(req *http.Request) {
	if username, password, ok := c.BasicAuth(); ok {
		req.SetBasicAuth(username, password)
	}
}
