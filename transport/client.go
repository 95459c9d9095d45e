package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// This function allows you to tweak the HTTP request. It might be useful to set authentication
// headers amongst other things
type RequestModifier func(*http.Request)

// Request is a pre-built GraphQL operation sent over HTTP.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// RetryConfig configures retries of failed HTTP requests. Network errors,
// 5xx and 429 responses are retried; GraphQL errors never are.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the retry settings used by WithRetry callers
// that have no specific requirements.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Client sends GraphQL queries and mutations over HTTP.
//
// # Immutable Pattern
//
// The Client's With* methods return a new Client instance rather than
// modifying the receiver. Always use the returned Client:
//
//	client = client.WithDebug(true)  // Correct
//	client.WithDebug(true)            // Wrong - original client unchanged
//
// Note: This differs from SubscriptionClient, whose With* methods modify
// the receiver and return self.
type Client struct {
	url             string // GraphQL server URL.
	httpClient      *http.Client
	requestModifier RequestModifier
	debug           bool
	retry           failsafe.Executor[any]
}

// NewClient creates a GraphQL client targeting the specified GraphQL server URL.
// If httpClient is nil, then http.DefaultClient is used.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:        url,
		httpClient: httpClient,
	}
}

// transientError marks a failed attempt that may succeed when retried.
type transientError struct {
	errs Errors
}

func (e *transientError) Error() string { return e.errs.Error() }

func (e *transientError) Unwrap() error { return e.errs }

// Do sends r and returns the raw "data" member of the response. Partial data
// is returned together with the GraphQL errors of the response.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	var data []byte
	attempt := func() error {
		var errs Errors
		var transient bool
		data, errs, transient = c.request(ctx, r)
		switch {
		case len(errs) == 0:
			return nil
		case transient:
			return &transientError{errs: errs}
		default:
			return errs
		}
	}

	var err error
	if c.retry != nil {
		err = c.retry.WithContext(ctx).Run(attempt)
	} else {
		err = attempt()
	}

	var te *transientError
	if errors.As(err, &te) {
		return data, te.errs
	}
	return data, err
}

func (c *Client) request(ctx context.Context, r Request) ([]byte, Errors, bool) {
	request, reqBody, err := c.BuildRequest(ctx, r)
	if err != nil {
		return nil, newSimpleErrors(ErrJsonEncode, fmt.Errorf("problem constructing request: %w", err)), false
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		e := c.NewRequestError(ErrRequestError, err, request, nil, bytes.NewReader(reqBody), nil)
		return nil, Errors{e}, ctx.Err() == nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		e := c.NewRequestError(
			ErrRequestError,
			fmt.Errorf("%v; body: %q", resp.Status, body),
			request,
			nil,
			bytes.NewReader(reqBody),
			nil,
		)
		e.Extensions["status"] = resp.StatusCode
		return nil, Errors{e}, retryableStatus(resp.StatusCode)
	}

	body, err := handleGzipResponse(resp, resp.Body)
	if err != nil {
		return nil, newSimpleErrors(ErrJsonDecode, err), false
	}
	defer func() { _ = body.Close() }()

	respBody, err := io.ReadAll(body)
	if err != nil {
		return nil, newSimpleErrors(ErrJsonDecode, err), false
	}

	rawData, gqlErrors := c.DecodeResponse(bytes.NewReader(respBody))
	if len(gqlErrors) == 0 {
		return rawData, nil, false
	}

	if gqlErrors[0].GetCode() == ErrJsonDecode {
		we := c.NewRequestError(
			ErrJsonDecode,
			errors.New(gqlErrors[0].Message),
			request,
			resp,
			bytes.NewReader(reqBody),
			bytes.NewReader(respBody),
		)
		return nil, Errors{we}, false
	}

	if c.debug {
		gqlErrors[0] = c.DecorateError(
			gqlErrors[0],
			request,
			resp,
			bytes.NewReader(reqBody),
			bytes.NewReader(respBody),
		)
	}
	return rawData, gqlErrors, false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// handleGzipResponse wraps the response body reader with a gzip decompressor
// if the Content-Encoding header indicates gzip compression.
func handleGzipResponse(resp *http.Response, bodyReader io.Reader) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(bodyReader)
		if err != nil {
			return nil, fmt.Errorf("problem trying to create gzip reader: %w", err)
		}
		return gr, nil
	}
	return io.NopCloser(bodyReader), nil
}

// BuildRequest constructs the HTTP request carrying r as a JSON body.
// It returns the request body bytes as well, for error decoration.
func (c *Client) BuildRequest(ctx context.Context, r Request) (*http.Request, []byte, error) {
	if len(r.Variables) == 0 {
		r.Variables = nil
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(r); err != nil {
		return nil, nil, err
	}

	reqBody := buf.Bytes()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, reqBody, err
	}
	request.Header.Add("Content-Type", "application/json")

	if c.requestModifier != nil {
		c.requestModifier(request)
	}

	return request, reqBody, nil
}

// DecodeResponse decodes a GraphQL JSON response into raw data and errors.
func (c *Client) DecodeResponse(reader io.Reader) ([]byte, Errors) {
	var out struct {
		Data   *json.RawMessage
		Errors Errors
	}

	if err := json.NewDecoder(reader).Decode(&out); err != nil {
		return nil, newSimpleErrors(ErrJsonDecode, err)
	}

	var rawData []byte
	if out.Data != nil && len(*out.Data) > 0 && string(*out.Data) != "null" {
		rawData = *out.Data
	}
	if len(out.Errors) > 0 {
		return rawData, out.Errors
	}
	return rawData, nil
}

func (c *Client) clone() *Client {
	return &Client{
		url:             c.url,
		httpClient:      c.httpClient,
		requestModifier: c.requestModifier,
		debug:           c.debug,
		retry:           c.retry,
	}
}

// WithRequestModifier returns a new Client with the request modifier set.
// This allows you to reuse the same TCP connection for multiple slightly
// different requests to the same server (e.g., different authentication
// headers for multitenant applications).
func (c *Client) WithRequestModifier(f RequestModifier) *Client {
	clone := c.clone()
	clone.requestModifier = f
	return clone
}

// WithDebug returns a new Client with debug mode enabled or disabled.
// When enabled, debug mode adds detailed request/response information to
// error extensions, which is useful for troubleshooting GraphQL API issues.
func (c *Client) WithDebug(debug bool) *Client {
	clone := c.clone()
	clone.debug = debug
	return clone
}

// WithRetry returns a new Client retrying transient failures with
// exponential backoff. A zero MaxRetries disables retries.
func (c *Client) WithRetry(cfg RetryConfig) *Client {
	clone := c.clone()
	if cfg.MaxRetries <= 0 {
		clone.retry = nil
		return clone
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			var te *transientError
			return errors.As(err, &te)
		}).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
	clone.retry = failsafe.With[any](policy)
	return clone
}

// DecorateError decorates an error with request/response information if debug
// mode is enabled.
func (c *Client) DecorateError(err Error, req *http.Request, resp *http.Response, reqBody, respBody io.Reader) Error {
	if !c.debug {
		return err
	}
	if req != nil && reqBody != nil {
		err = err.withRequest(req, reqBody)
	}
	if resp != nil && respBody != nil {
		err = err.withResponse(resp, respBody)
	}
	return err
}

// NewRequestError creates a new error with the given code and decorates it with
// request/response information if debug mode is enabled.
func (c *Client) NewRequestError(code string, err error, req *http.Request, resp *http.Response, reqBody, respBody io.Reader) Error {
	return c.DecorateError(newError(code, err), req, resp, reqBody, respBody)
}

// Exec sends query with the given operation name and variables.
func (c *Client) Exec(ctx context.Context, query, operationName string, variables map[string]any) ([]byte, error) {
	return c.Do(ctx, Request{Query: query, OperationName: operationName, Variables: variables})
}
