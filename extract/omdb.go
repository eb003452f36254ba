package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rasnes/movielens-etl/config"
	"github.com/rasnes/movielens-etl/model"
)

const maxBodyBytes = 1 << 20

type OMDbClient struct {
	HTTPClient *retryablehttp.Client
	Logger     *slog.Logger
	BaseURL    string
	apiKey     string
}

// NewOMDbClient reads the API key from OMDB_API_KEY.
func NewOMDbClient(config *config.Config, logger *slog.Logger) (*OMDbClient, error) {
	apiKey := os.Getenv("OMDB_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OMDB_API_KEY env variable is not set")
	}
	return newOMDbClient(config, logger, apiKey), nil
}

func newOMDbClient(config *config.Config, logger *slog.Logger, apiKey string) *OMDbClient {
	client := &OMDbClient{
		HTTPClient: retryablehttp.NewClient(),
		Logger:     logger,
		BaseURL:    config.OMDb.BaseURL,
		apiKey:     apiKey,
	}

	// Transient failures are retried per movie by the caller, so the HTTP
	// layer normally makes a single attempt.
	client.HTTPClient.RetryWaitMin = config.Extract.Backoff.RetryWaitMin
	client.HTTPClient.RetryWaitMax = config.Extract.Backoff.RetryWaitMax
	client.HTTPClient.RetryMax = config.Extract.Backoff.HTTPRetryMax
	client.HTTPClient.HTTPClient.Timeout = config.Extract.Backoff.Timeout
	client.HTTPClient.CheckRetry = checkRetry
	client.HTTPClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Logger = logger

	return client
}

// checkRetry never retries a rate limited request. The caller owns the cooldown.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Lookup fetches metadata for a title, optionally narrowed by release year.
// The returned error is ErrNotFound, ErrUnauthorized, a *RateLimitError, a
// *TransientError or the context error.
func (c *OMDbClient) Lookup(ctx context.Context, title string, year *int) (model.EnrichmentResult, error) {
	reqURL, err := c.lookupURL(title, year)
	if err != nil {
		return model.EnrichmentResult{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.EnrichmentResult{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.EnrichmentResult{}, ctxErr
		}
		return model.EnrichmentResult{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.EnrichmentResult{}, ctxErr
		}
		return model.EnrichmentResult{}, &TransientError{StatusCode: resp.StatusCode, Err: err}
	}

	result, err := classify(resp, body)
	if err != nil {
		c.Logger.Debug("OMDb lookup failed", "title", title, "status", resp.StatusCode, "error", err)
		return model.EnrichmentResult{}, err
	}
	return result, nil
}

func (c *OMDbClient) lookupURL(title string, year *int) (string, error) {
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	query := parsedURL.Query()
	query.Set("apikey", c.apiKey)
	query.Set("t", title)
	if year != nil {
		query.Set("y", strconv.Itoa(*year))
	}
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// classify maps an HTTP response onto a result or one of the lookup errors.
func classify(resp *http.Response, body []byte) (model.EnrichmentResult, error) {
	if resp.StatusCode == http.StatusTooManyRequests {
		return model.EnrichmentResult{}, &RateLimitError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Message:    resp.Status,
		}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return model.EnrichmentResult{}, &TransientError{StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	var payload omdbResponse
	decodeErr := json.Unmarshal(body, &payload)

	if decodeErr == nil && payload.Response == "False" {
		msg := strings.ToLower(payload.Error)
		switch {
		case strings.Contains(msg, "limit"):
			return model.EnrichmentResult{}, &RateLimitError{
				RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
				Message:    payload.Error,
			}
		case strings.Contains(msg, "api key"):
			return model.EnrichmentResult{}, fmt.Errorf("%w: %s", ErrUnauthorized, payload.Error)
		case strings.Contains(msg, "not found"):
			return model.EnrichmentResult{}, ErrNotFound
		}
		return model.EnrichmentResult{}, &TransientError{StatusCode: resp.StatusCode, Err: errors.New(payload.Error)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return model.EnrichmentResult{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return model.EnrichmentResult{}, &TransientError{StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	if decodeErr != nil {
		return model.EnrichmentResult{}, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed body: %w", decodeErr)}
	}
	if payload.Response != "True" {
		return model.EnrichmentResult{}, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected Response field %q", payload.Response)}
	}

	return payload.normalize(), nil
}

// retryAfter understands both the delay-seconds and the HTTP-date form.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
