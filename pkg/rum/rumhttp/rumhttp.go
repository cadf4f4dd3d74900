// Package rumhttp provides a drop-in replacement for *http.Client that
// reports one telemetry sample per request to a Recorder.
//
// The wrapped client is transparent: responses, errors, and body streams
// pass through unchanged, and a nil recorder degrades to plain *http.Client
// behavior. Redirects followed by the underlying client count as a single
// exchange, and the recorded sample reflects the terminal response.
package rumhttp

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// Recorder consumes request telemetry. *rum.Pipeline satisfies this
// interface.
type Recorder interface {
	ObserveRequest(telemetry.RequestTelemetry)
}

// Doer is the minimal request-executing interface shared by *http.Client
// and *Client. Application code that depends on Doer can swap the
// instrumented client in and out freely.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ Doer = (*http.Client)(nil)
	_ Doer = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithRedactQuery strips query strings from recorded URLs. Use this when
// request URLs carry tokens or other sensitive parameters.
func WithRedactQuery() Option {
	return func(c *Client) { c.redactQuery = true }
}

// Client wraps *http.Client and records telemetry for every request made
// through it. All convenience methods route through Do, so each exchange
// is observed exactly once.
type Client struct {
	*http.Client

	recorder    Recorder
	redactQuery bool
}

// Wrap decorates an existing *http.Client. The client's transport,
// timeout, jar, and redirect policy are preserved. A nil client gets
// default transport settings.
func Wrap(client *http.Client, recorder Recorder, opts ...Option) *Client {
	if client == nil {
		client = &http.Client{}
	}
	c := &Client{Client: client, recorder: recorder}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient returns an instrumented client with default transport
// settings.
func NewClient(recorder Recorder, opts ...Option) *Client {
	return Wrap(&http.Client{}, recorder, opts...)
}

// Do executes the request and records one telemetry sample before
// returning. The response and error are passed through unchanged.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.Client.Do(req)
	c.observe(start, req, resp, err)
	return resp, err
}

// Get issues a GET through the instrumented Do.
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Head issues a HEAD through the instrumented Do.
func (c *Client) Head(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post issues a POST through the instrumented Do.
func (c *Client) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// PostForm issues a form POST through the instrumented Do.
func (c *Client) PostForm(url string, data url.Values) (*http.Response, error) {
	return c.Post(url, "application/x-www-form-urlencoded", strings.NewReader(data.Encode()))
}

func (c *Client) observe(start time.Time, req *http.Request, resp *http.Response, err error) {
	if c.recorder == nil {
		return
	}

	// After redirects the response carries the terminal request.
	terminal := req
	if resp != nil && resp.Request != nil {
		terminal = resp.Request
	}

	rt := telemetry.RequestTelemetry{
		URL:          c.recordedURL(terminal),
		Method:       terminal.Method,
		Duration:     time.Since(start),
		Timestamp:    start,
		ResponseSize: -1,
	}
	if err != nil {
		rt.Error = err.Error()
	} else if resp != nil {
		rt.StatusCode = resp.StatusCode
		rt.ResponseSize = resp.ContentLength
	}

	c.recorder.ObserveRequest(rt)
}

func (c *Client) recordedURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	if !c.redactQuery {
		return req.URL.String()
	}
	redacted := *req.URL
	redacted.RawQuery = ""
	redacted.Fragment = ""
	redacted.RawFragment = ""
	return redacted.String()
}
