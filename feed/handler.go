package feed

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	// The header holding the id of a connecting client. An id is generated
	// when it is missing.
	HeaderClientID = "X-Client-Id"

	DefaultIdleTimeout = time.Minute * 5

	sendChanSize = 64
)

// Sender sends a message and returns the number of written bytes.
type Sender func(Msg) (int, error)

// Receiver receives a message and returns the number of read bytes.
type Receiver func() (Msg, int, error)

// ResponseSender queues messages for the connected client.
type ResponseSender interface {
	Send(Msg)
}

// Handler represents a feed connection handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request for the tiles rendered during the last frame.
	HandleSnapshotRequest(ctx context.Context, respond ResponseSender, msg Msg) error

	// The frame summaries to push to the client.
	Frames() <-chan Msg

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Get ClientID
	GetClientID() string
}

// Handle serves a feed connection until the client disconnects or the
// context is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	Conn    *websocket.Conn
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	sender := h.Handler.Sender()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx, sender)
	}()

	h.receiveChan = make(chan Msg, sendChanSize)
	receiver := h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx, receiver)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	frames := h.Handler.Frames()
	responder := responseSender{send: h.send}

	var disconnectErr error

loop:
	for {
		select {
		case <-ctx.Done():
			disconnectErr = ctx.Err()
			break loop

		case <-idleTimer.C:
			disconnectErr = errors.New("idle connection").WithTag("duration", idleTimeout)
			break loop

		case msg := <-frames:
			h.send(msg)

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				disconnectErr = errors.New("handling message failed").Wrap(err)
				break loop
			}

		case err := <-h.disconnectChan:
			disconnectErr = err
			break loop
		}
	}

	// Closing the connection unblocks the receiving goroutine.
	h.handleDisconnect(disconnectErr)
	cancel()
	wg.Wait()
}

// send queues a message. Messages are dropped when the client does not keep
// up.
func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		instrumentDroppedMsg(msg.Type)
	}
}

func (h *handler) startSending(ctx context.Context, sender Sender) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context, receiver Receiver) {
	for {
		msg, _, err := receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeSnapshotRequest:
		return h.Handler.HandleSnapshotRequest(ctx, responder, msg)

	default:
		logs.WithTag(logs.ClientIDTag, h.Handler.GetClientID()).
			WithTag("msg_type", msg.TypeString()).
			Debug("unsupported message ignored")
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send func(Msg)
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}

// FeedHandler is the handler of a client observing the engine frames.
type FeedHandler struct {
	// The hub publishing the frame summaries.
	Hub *Hub

	// The time a client can stay silent before being disconnected.
	ClientIdleTimeout time.Duration

	// The number of frame summaries buffered for the client.
	BufferSize int

	conn        *websocket.Conn
	clientID    string
	frames      <-chan Msg
	unsubscribe func()
}

func (h *FeedHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	h.clientID = conn.Request().Header.Get(HeaderClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}

	h.frames, h.unsubscribe = h.Hub.Subscribe(h.clientID, h.BufferSize)
}

func (h *FeedHandler) HandleDisconnect(error) {
	h.Close()
}

func (h *FeedHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	res, err := NewMsg(MsgTypePong, map[string]any{
		requestIDField: msg.RequestID(),
		"timestamp":    time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	respond.Send(res)
	return nil
}

func (h *FeedHandler) HandleSnapshotRequest(ctx context.Context, respond ResponseSender, msg Msg) error {
	if h.Hub.Snapshot == nil {
		return errors.New("snapshots are not available").
			WithTag("msg_type", msg.TypeString())
	}

	tiles, stats := h.Hub.Snapshot()
	res, err := SnapshotMsg(msg.RequestID(), tiles, stats)
	if err != nil {
		return err
	}

	respond.Send(res)
	return nil
}

func (h *FeedHandler) Frames() <-chan Msg {
	return h.frames
}

func (h *FeedHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		var b []byte
		if err := websocket.Message.Receive(h.conn, &b); err != nil {
			return Msg{}, 0, err
		}

		msg, err := DecodeMsg(b)
		return msg, len(b), err
	}
}

func (h *FeedHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		b, err := msg.Encode()
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithTag("msg_type", msg.TypeString()).
				Wrap(err)
		}

		if err := websocket.Message.Send(h.conn, b); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

func (h *FeedHandler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

func (h *FeedHandler) IdleTimeout() time.Duration {
	if h.ClientIdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return h.ClientIdleTimeout
}

func (h *FeedHandler) GetClientID() string {
	return h.clientID
}
