package whip

import (
	"XPusher/internal/logger"
	"XPusher/internal/utils"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const (
	sdpContentType      = "application/sdp"
	sdpFragContentType  = "application/trickle-ice-sdpfrag"
	maxSignalingBody    = 1 << 20
	sessionQueryPattern = `[?&]whip-session=([^&?']+)`
)

var reSessionID = regexp.MustCompile(sessionQueryPattern)

// Answer is the result of an offer/answer exchange.
// SessionEndpoint and SessionID are empty when the server didn't supply them.
type Answer struct {
	SDP             string
	SessionEndpoint string
	SessionID       string
}

// SignalingClient talks WHIP to an ingestion endpoint.
type SignalingClient struct {
	HTTPClient  *http.Client
	BearerToken string
	Parent      logger.Writer
}

// Log implements logger.Writer.
func (c *SignalingClient) Log(level logger.Level, format string, args ...interface{}) {
	if c.Parent == nil {
		return
	}
	c.Parent.Log(level, "[signaling] "+format, args...)
}

func (c *SignalingClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *SignalingClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if auth := utils.BearerAuthorization(c.BearerToken); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req, nil
}

func signalingError(method string, res *http.Response) *SignalingError {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return &SignalingError{
		Method:     method,
		Status:     res.StatusCode,
		StatusText: text,
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// extractSessionID returns the whip-session query parameter of a Location value.
func extractSessionID(location string) string {
	m := reSessionID.FindStringSubmatch(location)
	if m == nil {
		return ""
	}
	return m[1]
}

// Negotiate POSTs an offer to endpoint and returns the server's answer.
func (c *SignalingClient) Negotiate(ctx context.Context, endpoint string, offer string) (*Answer, error) {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", sdpContentType)

	res, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if !isSuccess(res.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(res.Body, maxSignalingBody))
		return nil, signalingError(http.MethodPost, res)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxSignalingBody))
	if err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, fmt.Errorf("empty answer")
	}

	ans := &Answer{SDP: string(body)}

	if location := res.Header.Get("Location"); location != "" {
		c.Log(logger.Info, "location header: %s", location)
		ans.SessionEndpoint = utils.ResolveReference(endpoint, location)
		ans.SessionID = extractSessionID(location)
	}

	return ans, nil
}

// Terminate DELETEs the session resource. Failures are logged and returned,
// callers continue their cleanup regardless.
func (c *SignalingClient) Terminate(ctx context.Context, sessionEndpoint string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, sessionEndpoint, nil)
	if err != nil {
		c.Log(logger.Warn, "disconnect stream failed: %v", err)
		return err
	}
	req.Header.Set("X-WHIP-Disconnect", "true")

	res, err := c.client().Do(req)
	if err != nil {
		c.Log(logger.Warn, "disconnect stream failed: %v", err)
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, maxSignalingBody))

	if !isSuccess(res.StatusCode) {
		serr := signalingError(http.MethodDelete, res)
		c.Log(logger.Warn, "disconnect stream failed with status code %d", res.StatusCode)
		return serr
	}

	c.Log(logger.Info, "disconnect stream succeeded, endpoint: %s", utils.RedactURL(sessionEndpoint))
	return nil
}

// Restart PATCHes a trickle-ICE fragment carrying new local ICE credentials
// and returns the server's fragment.
func (c *SignalingClient) Restart(ctx context.Context, sessionEndpoint string, fragment string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, sessionEndpoint, strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", sdpFragContentType)
	req.Header.Set("If-Match", "*")

	res, err := c.client().Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if !isSuccess(res.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(res.Body, maxSignalingBody))
		return "", signalingError(http.MethodPatch, res)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxSignalingBody))
	if err != nil {
		return "", fmt.Errorf("read restart answer: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", fmt.Errorf("server did not return ICE credentials")
	}
	return string(body), nil
}
