// Package predictclient talks to the remote inference service over HTTP.
package predictclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/bakeready/internal/endpoint"
	"github.com/example/bakeready/internal/logging"
	"github.com/example/bakeready/internal/prediction"
)

const (
	// DefaultTimeout bounds a whole prediction request, body included.
	DefaultTimeout = 60 * time.Second
	// FileField is the multipart field the inference service reads.
	FileField = "file"

	healthTimeout = 5 * time.Second
)

// Client submits images to the inference service. It never retries.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	origin     string
	logger     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithOrigin sets the scheme and host that relative base URLs are joined to.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient constructs a prediction client.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     logger.Named("predict_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the configured request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Submit posts img to the prediction route of ep and classifies the response.
// Every failure, including timeouts, is reported through the outcome.
func (c *Client) Submit(ctx context.Context, img prediction.Image, ep endpoint.Config) prediction.Outcome {
	opLogger := logging.WithOperation(c.logger, "predictclient.submit", logging.AttemptIDFromContext(ctx))

	target, err := c.absolute(ep.PredictURL())
	if err != nil {
		opLogger.Warn("cannot resolve prediction endpoint", zap.Error(err), zap.String("strategy", ep.Strategy.String()))
		return prediction.NetworkFailed(prediction.NetworkCauseConnection, err.Error())
	}
	opLogger = opLogger.With(zap.String("url", target), zap.String("strategy", ep.Strategy.String()))

	body, contentType, err := multipartBody(img)
	if err != nil {
		opLogger.Error("failed to build multipart body", zap.Error(err))
		return prediction.NetworkFailed(prediction.NetworkCauseConnection, fmt.Sprintf("could not build request: %v", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, body)
	if err != nil {
		opLogger.Error("failed to create request", zap.Error(err))
		return prediction.NetworkFailed(prediction.NetworkCauseConnection, fmt.Sprintf("could not build request: %v", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportFailure(reqCtx, opLogger, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportFailure(reqCtx, opLogger, err)
	}

	outcome := Classify(resp.StatusCode, string(raw))
	fields := []zap.Field{
		zap.Int("status", resp.StatusCode),
		zap.Int("body_bytes", len(raw)),
		zap.Duration("latency", time.Since(started)),
		zap.String("outcome", outcome.Label()),
	}
	if outcome.OK() {
		opLogger.Debug("prediction received", append(fields, zap.Int("days", outcome.Success.Days))...)
	} else {
		opLogger.Warn("prediction failed", append(fields, zap.String("message", outcome.Failure.Message))...)
	}
	return outcome
}

func (c *Client) transportFailure(ctx context.Context, opLogger *zap.Logger, err error) prediction.Outcome {
	var outcome prediction.Outcome
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = prediction.NetworkFailed(prediction.NetworkCauseTimeout,
			fmt.Sprintf("prediction service did not respond within %s", c.timeout))
	case errors.Is(ctx.Err(), context.Canceled):
		outcome = prediction.NetworkFailed(prediction.NetworkCauseCanceled, "prediction request was canceled")
	case isTimeout(err):
		outcome = prediction.NetworkFailed(prediction.NetworkCauseTimeout,
			fmt.Sprintf("prediction request timed out: %v", err))
	default:
		outcome = prediction.NetworkFailed(prediction.NetworkCauseConnection,
			fmt.Sprintf("could not reach prediction service: %v", err))
	}
	opLogger.Warn("prediction request failed",
		zap.Error(err),
		zap.String("network_cause", string(outcome.Failure.Network)))
	return outcome
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// absolute joins relative URLs onto the configured origin.
func (c *Client) absolute(url string) (string, error) {
	if strings.Contains(url, "://") {
		return url, nil
	}
	if c.origin == "" {
		return "", fmt.Errorf("relative endpoint %q needs an origin", url)
	}
	if !strings.HasPrefix(url, "/") {
		url = "/" + url
	}
	return c.origin + url, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(img prediction.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := img.Name
	if name == "" {
		name = "upload"
	}
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FileField, quoteEscaper.Replace(name)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// ServiceHealth mirrors the inference service health document.
type ServiceHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// Health queries the health route of ep.
func (c *Client) Health(ctx context.Context, ep endpoint.Config) (*ServiceHealth, error) {
	target, err := c.absolute(ep.HealthURL())
	if err != nil {
		return nil, logging.NewOperationError("predictclient.health", "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, logging.NewOperationError("predictclient.health", "", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("predictclient.health", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, logging.NewOperationError("predictclient.health", "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.New(withExcerpt(statusLine(resp.StatusCode), string(raw)))
		return nil, logging.NewOperationError("predictclient.health", "", err)
	}

	var health ServiceHealth
	if err := json.Unmarshal(raw, &health); err != nil {
		return nil, logging.NewOperationError("predictclient.health", "", fmt.Errorf("decode health: %w", err))
	}
	return &health, nil
}
