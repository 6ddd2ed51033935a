// Package service is the JSON-over-HTTP client shared by the external
// proving, recovery and relay services.
package service

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

	"github.com/kysee/zkpool/zk-pool/retry"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusTooManyRequests {
		return types.ErrRateLimited
	}
	return nil
}

// Classify treats 5xx and 408 responses as transient on top of retry.Classify.
func Classify(err error) retry.Class {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			return retry.RateLimited
		case se.Code >= 500 || se.Code == http.StatusRequestTimeout:
			return retry.Transient
		default:
			return retry.Fatal
		}
	}
	return retry.Classify(err)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Policy  retry.Policy
	Logger  zerolog.Logger
}

func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	p := retry.ServicePolicy()
	p.Classify = Classify
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Policy:  p,
		Logger:  logger,
	}
}

// Do sends in as JSON (when not nil) and decodes the response into out,
// retrying per c.Policy.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	return c.Policy.Do(ctx, func(ctx context.Context) error {
		return c.once(ctx, method, path, body, out)
	}, func(err error, wait time.Duration) {
		c.Logger.Debug().Err(err).Str("url", c.BaseURL+path).Dur("wait", wait).Msg("retrying service call")
	})
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
