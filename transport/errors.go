package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error codes stored in extensions.code of errors built by this package.
const (
	ErrRequestError   = "request_error"
	ErrJsonEncode     = "json_encode_error"
	ErrJsonDecode     = "json_decode_error"
	ErrGraphQLDecode  = "graphql_decode_error"
	ErrWebsocketError = "websocket_error"
)

var (
	// ErrSubscriptionStopped can be returned by a subscription handler to
	// stop the subscription without reporting an error.
	ErrSubscriptionStopped = errors.New("transport: subscription stopped")

	// ErrNoSubscriptionClient is emitted by subscription observables of a
	// Link created without a SubscriptionClient.
	ErrNoSubscriptionClient = errors.New("transport: no subscription client configured")

	// ErrCacheMiss is emitted by cache-only watch queries with no cached data.
	ErrCacheMiss = errors.New("transport: no cached result for cache-only query")

	// ErrClosed is returned when subscribing on a closed SubscriptionClient.
	ErrClosed = errors.New("transport: subscription client closed")
)

// Errors represents the "errors" array in a response from a GraphQL server.
// If returned via error interface, the slice is expected to contain at least 1 element.
//
// Specification: https://spec.graphql.org/October2021/#sec-Errors.
type Errors []Error

type Error struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions"`
	Locations  []struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"locations"`
	Path []any `json:"path,omitempty"`
}

// Error implements error interface.
func (e Error) Error() string {
	return fmt.Sprintf("Message: %s, Locations: %+v", e.Message, e.Locations)
}

// Error implements error interface.
func (e Errors) Error() string {
	b := strings.Builder{}
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// GetCode returns the error code from the extensions, or an empty string if
// not present.
func (e Error) GetCode() string {
	if e.Extensions == nil {
		return ""
	}
	code, _ := e.Extensions["code"].(string)
	return code
}

// RequestInfo is the HTTP request recorded on errors in debug mode.
type RequestInfo struct {
	Headers http.Header
	Body    string
}

// ResponseInfo is the HTTP response recorded on errors in debug mode.
type ResponseInfo struct {
	Headers http.Header
	Body    string
}

// InternalExtensions is the debugging information added to
// extensions.internal when debug mode is enabled.
type InternalExtensions struct {
	Request  *RequestInfo
	Response *ResponseInfo
	Error    error
}

// GetInternalExtensions returns the typed internal extensions, or nil.
func (e Error) GetInternalExtensions() *InternalExtensions {
	internal, ok := e.Extensions["internal"].(map[string]any)
	if !ok {
		return nil
	}

	ext := &InternalExtensions{}
	if req, ok := internal["request"].(map[string]any); ok {
		ext.Request = &RequestInfo{}
		ext.Request.Headers, _ = req["headers"].(http.Header)
		ext.Request.Body, _ = req["body"].(string)
	}
	if resp, ok := internal["response"].(map[string]any); ok {
		ext.Response = &ResponseInfo{}
		ext.Response.Headers, _ = resp["headers"].(http.Header)
		ext.Response.Body, _ = resp["body"].(string)
	}
	ext.Error, _ = internal["error"].(error)
	return ext
}

func newError(code string, err error) Error {
	return Error{
		Message: err.Error(),
		Extensions: map[string]any{
			"code": code,
		},
	}
}

func newSimpleErrors(code string, err error) Errors {
	return Errors{newError(code, err)}
}

// withDebugInfo stores headers and body under extensions.internal[infoType].
func (e Error) withDebugInfo(infoType string, headers http.Header, bodyReader io.Reader) Error {
	var internal map[string]any
	if e.Extensions != nil {
		internal, _ = e.Extensions["internal"].(map[string]any)
	}
	if internal == nil {
		internal = make(map[string]any)
	}

	bodyBytes, err := io.ReadAll(bodyReader)
	if err != nil {
		internal["error"] = err
	} else {
		internal[infoType] = map[string]any{
			"headers": headers,
			"body":    string(bodyBytes),
		}
	}

	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions["internal"] = internal
	return e
}

func (e Error) withRequest(req *http.Request, bodyReader io.Reader) Error {
	return e.withDebugInfo("request", req.Header, bodyReader)
}

func (e Error) withResponse(res *http.Response, bodyReader io.Reader) Error {
	return e.withDebugInfo("response", res.Header, bodyReader)
}
