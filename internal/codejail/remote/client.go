// Package remote executes code on the codejail service over HTTP.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"capajail/internal/codejail/spec"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 32 << 20

// Client is the built-in remote executor.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
}

// NewClient builds a client. The OAuth transport is used only when every
// OAuth setting is present.
func NewClient(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	base := &http.Client{Transport: newTransport(cfg)}
	httpClient := base
	if cfg.OAuth.Enabled() {
		cc := clientcredentials.Config{
			ClientID:       cfg.OAuth.ClientID,
			ClientSecret:   cfg.OAuth.ClientSecret,
			TokenURL:       cfg.OAuth.TokenURL(),
			EndpointParams: url.Values{"token_type": {tokenTypeParam}},
			AuthStyle:      oauth2.AuthStyleInParams,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(ctx)
	}
	return &Client{cfg: cfg, endpoint: endpoint, http: httpClient}, nil
}

func newTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Authenticated reports whether requests carry an OAuth token.
func (c *Client) Authenticated() bool { return c.cfg.OAuth.Enabled() }

// Exec sends req to the service and applies the returned globals.
func (c *Client) Exec(ctx context.Context, req spec.Request, globals map[string]any) error {
	body, contentType, err := EncodeMultipart(NewPayload(req, globals), req.ExtraFiles)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "build remote request: %v", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteUnavailable, "build remote request: %v", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteUnavailable, "codejail service unreachable: %v", err).
			WithDetail("endpoint", c.endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	// The read timeout also bounds the body.
	timer := time.AfterFunc(c.cfg.ReadTimeout, cancel)
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	timer.Stop()
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteUnavailable, "read codejail response: %v", err)
	}
	logger.Debug(ctx, "codejail service responded",
		zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return appErr.Newf(appErr.RemoteStatusError, "codejail service returned status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", snippet(data))
	}
	parsed, err := DecodeResponse(data)
	if err != nil {
		return appErr.Wrapf(err, appErr.RemoteParseError, "invalid codejail response: %v", err).
			WithDetail("body", snippet(data))
	}

	spec.Merge(globals, parsed.GlobalsDict)
	if parsed.Emsg != nil {
		return appErr.SafeExecFailure(*parsed.Emsg)
	}
	return nil
}

func snippet(data []byte) string {
	const max = 256
	if len(data) > max {
		return fmt.Sprintf("%s...", data[:max])
	}
	return string(data)
}
