package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// OperationMessageType is the type of a graphql-ws protocol message.
type OperationMessageType string

const (
	// GQL_CONNECTION_INIT the Client sends this message after plain websocket connection to start the communication with the server
	GQL_CONNECTION_INIT OperationMessageType = "connection_init"
	// GQL_CONNECTION_ERROR the server may respond with this message to the GQL_CONNECTION_INIT from client, indicates the server rejected the connection.
	GQL_CONNECTION_ERROR OperationMessageType = "connection_error"
	// GQL_START Client sends this message to execute GraphQL operation
	GQL_START OperationMessageType = "start"
	// GQL_STOP Client sends this message in order to stop a running GraphQL operation execution (for example: unsubscribe)
	GQL_STOP OperationMessageType = "stop"
	// GQL_ERROR Server sends this message upon a failing operation, before the GraphQL execution, usually due to GraphQL validation errors (resolver errors are part of GQL_DATA message, and will be added as errors array)
	GQL_ERROR OperationMessageType = "error"
	// GQL_DATA The server sends this message to transfer the GraphQL execution result from the server to the client, this message is a response for GQL_START message.
	GQL_DATA OperationMessageType = "data"
	// GQL_COMPLETE Server sends this message to indicate that a GraphQL operation is done, and no more data will arrive for the specific operation.
	GQL_COMPLETE OperationMessageType = "complete"
	// GQL_CONNECTION_KEEP_ALIVE Server message that should be sent right after each GQL_CONNECTION_ACK processed and then periodically to keep the client connection alive.
	// The client starts to consider the keep alive message only upon the first received keep alive message from the server.
	GQL_CONNECTION_KEEP_ALIVE OperationMessageType = "ka"
	// GQL_CONNECTION_ACK The server may responses with this message to the GQL_CONNECTION_INIT from client, indicates the server accepted the connection. May optionally include a payload.
	GQL_CONNECTION_ACK OperationMessageType = "connection_ack"
	// GQL_CONNECTION_TERMINATE the Client sends this message to terminate the connection.
	GQL_CONNECTION_TERMINATE OperationMessageType = "connection_terminate"
)

const (
	defaultTimeout   = time.Minute
	defaultReadLimit = 10 * 1024 * 1024
)

// OperationMessage is a graphql-ws protocol frame.
type OperationMessage struct {
	ID      string               `json:"id,omitempty"`
	Type    OperationMessageType `json:"type"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

func (msg OperationMessage) String() string {
	bs, _ := json.Marshal(msg)
	return string(bs)
}

// Handler receives the raw "data" member of every event of a subscription,
// with the GraphQL errors of the event if any. Returning
// ErrSubscriptionStopped stops the subscription; any other error is passed
// to the OnError callback of the client.
type Handler func(data []byte, err error) error

type subscription struct {
	id         string
	payload    Request
	handler    Handler
	onComplete func()
}

// SubscriptionClient runs GraphQL subscriptions over a single websocket,
// using the graphql-ws protocol. The connection is opened by the first
// Subscribe call.
//
// Unlike Client, the With* and On* methods of SubscriptionClient modify the
// receiver and return it, and must be called before the first Subscribe.
type SubscriptionClient struct {
	url              string
	connectionParams map[string]any
	header           http.Header
	timeout          time.Duration
	readLimit        int64
	log              logrus.FieldLogger
	onError          func(sc *SubscriptionClient, err error) error
	onConnected      func()
	onDisconnected   func()

	// connectMu serializes connection attempts.
	connectMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	cancel        context.CancelFunc
	done          chan struct{}
	subscriptions map[string]*subscription
	closed        bool
}

// NewSubscriptionClient returns a client for the websocket endpoint at url.
// Both ws(s):// and http(s):// URLs are accepted.
func NewSubscriptionClient(url string) *SubscriptionClient {
	return &SubscriptionClient{
		url:           url,
		timeout:       defaultTimeout,
		readLimit:     defaultReadLimit,
		log:           logrus.StandardLogger(),
		subscriptions: make(map[string]*subscription),
	}
}

// GetURL returns the GraphQL server's URL.
func (sc *SubscriptionClient) GetURL() string {
	return sc.url
}

// WithConnectionParams sets the payload of the connection_init message.
func (sc *SubscriptionClient) WithConnectionParams(params map[string]any) *SubscriptionClient {
	sc.connectionParams = params
	return sc
}

// WithHeader sets the HTTP headers of the websocket handshake.
func (sc *SubscriptionClient) WithHeader(header http.Header) *SubscriptionClient {
	sc.header = header
	return sc
}

// WithTimeout bounds the websocket handshake and the wait for the server
// acknowledgement.
func (sc *SubscriptionClient) WithTimeout(timeout time.Duration) *SubscriptionClient {
	sc.timeout = timeout
	return sc
}

// WithReadLimit sets the maximum size in bytes of a message read from the server.
func (sc *SubscriptionClient) WithReadLimit(limit int64) *SubscriptionClient {
	sc.readLimit = limit
	return sc
}

// WithLogger sets the logger used for protocol tracing and dropped errors.
func (sc *SubscriptionClient) WithLogger(logger logrus.FieldLogger) *SubscriptionClient {
	sc.log = logger
	return sc
}

// OnError sets the callback invoked with connection errors and errors
// returned by handlers. A non-nil return value stops the failing subscription.
func (sc *SubscriptionClient) OnError(onError func(sc *SubscriptionClient, err error) error) *SubscriptionClient {
	sc.onError = onError
	return sc
}

// OnConnected sets the callback invoked once the server acknowledged the connection.
func (sc *SubscriptionClient) OnConnected(fn func()) *SubscriptionClient {
	sc.onConnected = fn
	return sc
}

// OnDisconnected sets the callback invoked when the connection is lost.
func (sc *SubscriptionClient) OnDisconnected(fn func()) *SubscriptionClient {
	sc.onDisconnected = fn
	return sc
}

// Subscribe starts the operation r and returns its id. Events are passed to
// handler from the read goroutine of the client, in order. onComplete, if not
// nil, is called once the server or the connection ends the subscription;
// it is not called after Unsubscribe or Close.
func (sc *SubscriptionClient) Subscribe(r Request, handler Handler, onComplete func()) (string, error) {
	if handler == nil {
		return "", errors.New("transport: nil subscription handler")
	}
	conn, err := sc.connect()
	if err != nil {
		return "", err
	}

	sub := &subscription{
		id:         uuid.New().String(),
		payload:    r,
		handler:    handler,
		onComplete: onComplete,
	}

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return "", ErrClosed
	}
	sc.subscriptions[sub.id] = sub
	sc.mu.Unlock()

	if err := sc.start(conn, sub); err != nil {
		sc.mu.Lock()
		delete(sc.subscriptions, sub.id)
		sc.mu.Unlock()
		return "", err
	}
	return sub.id, nil
}

// Unsubscribe stops the subscription with the given id.
func (sc *SubscriptionClient) Unsubscribe(id string) error {
	sc.mu.Lock()
	_, ok := sc.subscriptions[id]
	delete(sc.subscriptions, id)
	conn := sc.conn
	sc.mu.Unlock()

	if !ok {
		return fmt.Errorf("subscription id %s does not exist", id)
	}
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()
	return sc.send(ctx, conn, OperationMessage{ID: id, Type: GQL_STOP})
}

// Close terminates the connection and drops every subscription.
func (sc *SubscriptionClient) Close() error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	conn, cancel, done := sc.conn, sc.cancel, sc.done
	sc.conn = nil
	sc.subscriptions = make(map[string]*subscription)
	sc.mu.Unlock()

	if conn == nil {
		return nil
	}
	ctx, cancelSend := context.WithTimeout(context.Background(), sc.timeout)
	_ = sc.send(ctx, conn, OperationMessage{Type: GQL_CONNECTION_TERMINATE})
	cancelSend()

	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-done
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

// connect returns the live connection, dialing and running the
// connection_init handshake when there is none.
func (sc *SubscriptionClient) connect() (*websocket.Conn, error) {
	sc.connectMu.Lock()
	defer sc.connectMu.Unlock()

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil, ErrClosed
	}
	if sc.conn != nil {
		conn := sc.conn
		sc.mu.Unlock()
		return conn, nil
	}
	sc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, sc.url, &websocket.DialOptions{
		HTTPHeader:   sc.header,
		Subprotocols: []string{"graphql-ws"},
	})
	if err != nil {
		return nil, newSimpleErrors(ErrWebsocketError, fmt.Errorf("dial %s: %w", sc.url, err))
	}
	conn.SetReadLimit(sc.readLimit)

	if err := sc.init(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "")
		return nil, err
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	done := make(chan struct{})

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		cancelRead()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, ErrClosed
	}
	sc.conn = conn
	sc.cancel = cancelRead
	sc.done = done
	sc.mu.Unlock()

	go sc.readLoop(readCtx, conn, done)

	sc.log.WithField("url", sc.url).Debug("websocket connected")
	if sc.onConnected != nil {
		sc.onConnected()
	}
	return conn, nil
}

// init sends connection_init and waits for the acknowledgement.
func (sc *SubscriptionClient) init(ctx context.Context, conn *websocket.Conn) error {
	payload := json.RawMessage("{}")
	if sc.connectionParams != nil {
		bs, err := json.Marshal(sc.connectionParams)
		if err != nil {
			return newSimpleErrors(ErrJsonEncode, err)
		}
		payload = bs
	}
	if err := sc.send(ctx, conn, OperationMessage{Type: GQL_CONNECTION_INIT, Payload: payload}); err != nil {
		return err
	}

	for {
		var msg OperationMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return newSimpleErrors(ErrWebsocketError, fmt.Errorf("waiting for connection ack: %w", err))
		}
		switch msg.Type {
		case GQL_CONNECTION_ACK:
			return nil
		case GQL_CONNECTION_KEEP_ALIVE:
		case GQL_CONNECTION_ERROR:
			return newSimpleErrors(ErrWebsocketError, fmt.Errorf("connection rejected: %s", msg.Payload))
		default:
			sc.log.WithField("message", msg.String()).Debug("unexpected message before connection ack")
		}
	}
}

func (sc *SubscriptionClient) start(conn *websocket.Conn, sub *subscription) error {
	payload := sub.payload
	if len(payload.Variables) == 0 {
		payload.Variables = nil
	}
	bs, err := json.Marshal(payload)
	if err != nil {
		return newSimpleErrors(ErrJsonEncode, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()
	return sc.send(ctx, conn, OperationMessage{ID: sub.id, Type: GQL_START, Payload: bs})
}

func (sc *SubscriptionClient) send(ctx context.Context, conn *websocket.Conn, msg OperationMessage) error {
	sc.log.WithField("message", msg.String()).Trace("websocket send")
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return newSimpleErrors(ErrWebsocketError, err)
	}
	return nil
}

func (sc *SubscriptionClient) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg OperationMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			sc.disconnected(conn, err)
			return
		}
		sc.log.WithField("message", msg.String()).Trace("websocket receive")
		sc.dispatch(msg)
	}
}

func (sc *SubscriptionClient) dispatch(msg OperationMessage) {
	switch msg.Type {
	case GQL_DATA:
		sub := sc.lookup(msg.ID)
		if sub == nil {
			return
		}
		var out struct {
			Data   json.RawMessage `json:"data"`
			Errors Errors          `json:"errors"`
		}
		if err := json.Unmarshal(msg.Payload, &out); err != nil {
			sc.handle(sub, nil, newSimpleErrors(ErrGraphQLDecode, err))
			return
		}
		var data []byte
		if len(out.Data) > 0 && string(out.Data) != "null" {
			data = out.Data
		}
		if len(out.Errors) > 0 {
			sc.handle(sub, data, out.Errors)
			return
		}
		sc.handle(sub, data, nil)

	case GQL_ERROR:
		sub := sc.lookup(msg.ID)
		if sub == nil {
			return
		}
		sc.handle(sub, nil, decodeErrorPayload(msg.Payload))

	case GQL_COMPLETE:
		sc.mu.Lock()
		sub := sc.subscriptions[msg.ID]
		delete(sc.subscriptions, msg.ID)
		sc.mu.Unlock()
		if sub != nil && sub.onComplete != nil {
			sub.onComplete()
		}

	case GQL_CONNECTION_ERROR:
		sc.reportError(newSimpleErrors(ErrWebsocketError, fmt.Errorf("connection error: %s", msg.Payload)))

	case GQL_CONNECTION_KEEP_ALIVE, GQL_CONNECTION_ACK:

	default:
		sc.log.WithField("message", msg.String()).Debug("unknown message type")
	}
}

// decodeErrorPayload accepts the error payload shapes sent by servers: a
// single error object or an array of them.
func decodeErrorPayload(payload json.RawMessage) Errors {
	var errs Errors
	if err := json.Unmarshal(payload, &errs); err == nil && len(errs) > 0 {
		return errs
	}
	var single Error
	if err := json.Unmarshal(payload, &single); err == nil && single.Message != "" {
		return Errors{single}
	}
	return newSimpleErrors(ErrGraphQLDecode, fmt.Errorf("invalid error payload: %s", payload))
}

func (sc *SubscriptionClient) handle(sub *subscription, data []byte, gqlErrs Errors) {
	var err error
	if len(gqlErrs) > 0 {
		err = gqlErrs
	}
	herr := sub.handler(data, err)
	switch {
	case herr == nil:
	case errors.Is(herr, ErrSubscriptionStopped):
		_ = sc.Unsubscribe(sub.id)
	default:
		if sc.reportError(herr) != nil {
			_ = sc.Unsubscribe(sub.id)
		}
	}
}

func (sc *SubscriptionClient) reportError(err error) error {
	if sc.onError != nil {
		return sc.onError(sc, err)
	}
	sc.log.WithError(err).Error("subscription error")
	return nil
}

func (sc *SubscriptionClient) lookup(id string) *subscription {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.subscriptions[id]
}

// disconnected drops the connection after a read failure. Unless the client
// was closed, every running subscription is told about the failure and
// completed.
func (sc *SubscriptionClient) disconnected(conn *websocket.Conn, err error) {
	sc.mu.Lock()
	if sc.conn != conn {
		sc.mu.Unlock()
		return
	}
	cancel := sc.cancel
	sc.conn = nil
	sc.cancel = nil
	subs := sc.subscriptions
	sc.subscriptions = make(map[string]*subscription)
	closed := sc.closed
	sc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close(websocket.StatusInternalError, "")
	if closed {
		return
	}

	sc.log.WithError(err).Warn("websocket disconnected")
	if sc.onDisconnected != nil {
		sc.onDisconnected()
	}
	werr := newSimpleErrors(ErrWebsocketError, err)
	for _, sub := range subs {
		_ = sub.handler(nil, werr)
		if sub.onComplete != nil {
			sub.onComplete()
		}
	}
	sc.reportError(werr)
}
