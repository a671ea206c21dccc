// Package apiclient talks to the library backend on behalf of one browser
// session: bearer attachment, 401 recovery through a single coalesced
// refresh, and classification of failures.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultTimeout = 30 * time.Second

// maxBodyBytes bounds how much of a backend response is buffered.
const maxBodyBytes = 4 << 20

type RefreshOutcome string

const (
	RefreshSuccess RefreshOutcome = "success"
	RefreshFailure RefreshOutcome = "failure"
	// RefreshSkipped: the 401 was answered with a token another request had already refreshed.
	RefreshSkipped RefreshOutcome = "skipped"
)

// Observer receives refresh outcomes, typically to feed metrics.
type Observer interface {
	ObserveRefresh(outcome RefreshOutcome)
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
}

// Client is shared by every session. It owns the HTTP transport and the
// refresh coalescing group.
type Client struct {
	baseURL  string
	http     *http.Client
	log      *slog.Logger
	observer Observer

	refreshes singleflight.Group
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{baseURL: base, http: hc, log: log, observer: opts.Observer}, nil
}

// Request describes one backend call. Body is kept as bytes so the
// request can be resent after a refresh.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// JSONRequest encodes v as the request body.
func JSONRequest(method, path string, v any) (Request, error) {
	req := Request{Method: method, Path: path}
	if v == nil {
		return req, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	req.Body = raw
	req.Header = http.Header{"Content-Type": []string{"application/json"}}
	return req, nil
}

func (c *Client) send(ctx context.Context, r Request, accessToken string) (*http.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.baseURL + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, r.Path, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + r.Path, Timeout: isTimeout(err), Err: err}
	}
	return resp, nil
}

// call sends r once and decodes a 2xx JSON body into out. No refresh is attempted.
func (c *Client) call(ctx context.Context, r Request, accessToken string, out any) error {
	resp, err := c.send(ctx, r, accessToken)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &NetworkError{Op: "read response", Timeout: isTimeout(err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UnknownError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

func (c *Client) observe(o RefreshOutcome) {
	if c.observer != nil {
		c.observer.ObserveRefresh(o)
	}
}
