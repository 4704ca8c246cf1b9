package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds every backend call. A timeout is classified as
	// ErrNetworkUnavailable and feeds the same fallback path as a
	// connectivity loss.
	DefaultTimeout = 10 * time.Second

	// Max bytes read from a response body (hard limit).
	maxResponseBytes = 8 << 20 // 8 MiB
)

// Client is the authenticated HTTP request executor.
//
// It attaches the bearer credential to every request, performs at most one
// token refresh per 401 (collapsed across concurrent callers), and
// translates every failure into the package error taxonomy exactly once.
// Client holds only immutable configuration and is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	session SessionProvider
	log     *slog.Logger
	metrics *Metrics

	onUnauthenticated func()

	refresh singleflight.Group
}

// Options are optional Client knobs. The zero value gives sane defaults.
type Options struct {
	// HTTPClient overrides the underlying client (tests, custom transports).
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Metrics records request counters when non-nil.
	Metrics *Metrics

	// OnUnauthenticated fires once per failed token refresh, after the
	// session has been cleared. The UI layer hooks re-authentication here.
	OnUnauthenticated func()
}

// New constructs a Client for the given backend base URL.
func New(log *slog.Logger, baseURL string, session SessionProvider, opts Options) (*Client, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if session == nil {
		return nil, errors.New("session provider is required")
	}

	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:              base,
		http:              hc,
		session:           session,
		log:               log,
		metrics:           opts.Metrics,
		onUnauthenticated: opts.OnUnauthenticated,
	}, nil
}

// Do executes one request and returns the decoded response envelope.
//
// Bodies are never logged; only method, path, outcome and duration are.
func (c *Client) Do(ctx context.Context, req Request) (Envelope, error) {
	start := time.Now()

	env, err := c.do(ctx, req, true)

	outcome := outcomeOf(err)
	c.metrics.observe(req.Method, outcome, time.Since(start).Seconds())
	c.log.Debug("transport.request",
		"method", req.Method,
		"path", req.Path,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return env, err
}

func (c *Client) do(ctx context.Context, req Request, allowRefresh bool) (Envelope, error) {
	hreq, err := c.buildRequest(ctx, req)
	if err != nil {
		return Envelope{}, err
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return Envelope{}, ctx.Err()
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if !allowRefresh {
			return Envelope{}, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrUnauthenticated)
		}
		if err := c.refreshOnce(ctx); err != nil {
			return Envelope{}, err
		}
		return c.do(ctx, req, false)

	case resp.StatusCode == http.StatusNotFound:
		return Envelope{}, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrNotFound)

	case resp.StatusCode == http.StatusConflict:
		return Envelope{}, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrConflict)

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Envelope{}, &ServerError{Code: resp.StatusCode, Message: envelopeMessage(body)}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !env.Success {
		return Envelope{}, &ServerError{Code: resp.StatusCode, Message: env.Message}
	}
	return env, nil
}

// refreshOnce performs one token refresh, collapsed across concurrent 401s.
//
// On refresh failure the session is cleared and OnUnauthenticated fires
// exactly once for the whole burst, not once per failing call.
func (c *Client) refreshOnce(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		if err := c.session.Refresh(ctx); err != nil {
			c.log.Warn("transport.refresh.fail", "err", err)

			// Clearing must not be skipped because the triggering call was
			// cancelled mid-refresh.
			if cerr := c.session.Clear(context.WithoutCancel(ctx)); cerr != nil {
				c.log.Warn("transport.session.clear.fail", "err", cerr)
			}
			if c.onUnauthenticated != nil {
				c.onUnauthenticated()
			}
			return nil, fmt.Errorf("%w: refresh: %v", ErrUnauthenticated, err)
		}
		return nil, nil
	})
	return err
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)

	switch {
	case req.Multipart != nil:
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		for field, value := range req.Multipart.Fields {
			if err := mw.WriteField(field, value); err != nil {
				return nil, fmt.Errorf("multipart field %q: %w", field, err)
			}
		}
		for _, f := range req.Multipart.Files {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
			ct := f.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			h.Set("Content-Type", ct)

			part, err := mw.CreatePart(h)
			if err != nil {
				return nil, fmt.Errorf("multipart file %q: %w", f.Field, err)
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, fmt.Errorf("multipart file %q: %w", f.Field, err)
			}
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("multipart close: %w", err)
		}
		body = buf
		contentType = mw.FormDataContentType()

	case req.Body != nil:
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	hreq.Header.Set("Accept", "application/json")
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}

	token, err := c.session.Token(ctx)
	if err != nil {
		c.log.Warn("transport.token.fail", "err", err)
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}
	return hreq, nil
}

func envelopeMessage(body []byte) string {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Message
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNetworkUnavailable):
		return "network"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
