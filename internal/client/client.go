// Package client is the Go binding for the callbox REST surface. It satisfies
// the callsession Transport and Recorder ports, so a headless client wires a
// Client straight into a call controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/signal"
)

const defaultRequestTimeout = 10 * time.Second

// APIError is a non-2xx response from the server, carrying the error message
// from the response body when one was present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.Status)
	}
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	base *url.URL
	cred string
	http *http.Client
}

type Options struct {
	// Credential is sent as a bearer token on every request. Empty means
	// unauthenticated (auth mode "none").
	Credential string
	HTTPClient *http.Client
}

func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: base url must be http(s), got %q", baseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{base: base, cred: opts.Credential, http: httpClient}, nil
}

// Send enqueues one signaling message into the recipient's mailbox.
func (c *Client) Send(ctx context.Context, msg signal.Message) error {
	return c.do(ctx, http.MethodPost, "/signal", nil, msg, nil)
}

// Poll atomically drains the identity's mailbox. An empty inbox returns an
// empty slice, not an error.
func (c *Client) Poll(ctx context.Context, identity string) ([]signal.Message, error) {
	var out struct {
		Signals []signal.Message `json:"signals"`
	}
	q := url.Values{"username": {identity}}
	if err := c.do(ctx, http.MethodGet, "/signal", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// Clear discards the identity's mailbox without delivering it.
func (c *Client) Clear(ctx context.Context, identity string) error {
	q := url.Values{"username": {identity}}
	return c.do(ctx, http.MethodDelete, "/signal", q, nil, nil)
}

// Append writes one call record to the server's history.
func (c *Client) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	var stored history.Record
	if err := c.do(ctx, http.MethodPost, "/calls", nil, rec, &stored); err != nil {
		return history.Record{}, err
	}
	return stored, nil
}

// ListCalls returns the identity's call history, newest first.
func (c *Client) ListCalls(ctx context.Context, identity string) ([]history.Record, error) {
	var out struct {
		Calls []history.Record `json:"calls"`
	}
	q := url.Values{"username": {identity}}
	if err := c.do(ctx, http.MethodGet, "/calls", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cred != "" {
		req.Header.Set("Authorization", "Bearer "+c.cred)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
