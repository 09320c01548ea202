package feed

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

// HandlerWithLogs logs the connection events of a handler and, every
// summaryInterval, the number of messages sent by type.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:     h,
		sent:        msgCounter{interval: summaryInterval, counts: make(map[string]int)},
		stopSummary: cancel,
	}

	go handler.summarize(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	remoteAddress string
	sent          msgCounter
	stopSummary   func()
	closeOnce     sync.Once
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.remoteAddress = req.RemoteAddr

	logs.WithTag(logs.ClientIDTag, h.GetClientID()).
		WithTag("user_agent", req.UserAgent()).
		WithTag("remote_address", h.remoteAddress).
		Info("feed client connected")
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag(logs.ClientIDTag, h.GetClientID()).
		WithTag("remote_address", h.remoteAddress)
	if err != nil && !isClosedErr(err) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("feed client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		switch {
		case err == nil:
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				WithTag("msg_type", msg.TypeString()).
				Debug("feed message received")

		case !isClosedErr(err):
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				Warn(errors.New("receiving feed message failed").Wrap(err))
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	send := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := send(msg)
		switch {
		case err == nil:
			h.sent.inc(msgType)

		case !isClosedErr(err):
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				WithTag("msg_type", msgType).
				Warn(errors.New("sending feed message failed").Wrap(err))
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeOnce.Do(func() {
		h.stopSummary()
		h.logSummary()
	})
}

func (h *handlerWithLogs) summarize(ctx context.Context) {
	ticker := time.NewTicker(h.sent.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) logSummary() {
	counts := h.sent.reset()
	if len(counts) == 0 {
		return
	}

	entry := logs.
		WithTag(logs.ClientIDTag, h.GetClientID()).
		WithTag("time_interval", h.sent.interval)
	for msgType, n := range counts {
		entry = entry.WithTag(msgType, n)
	}
	entry.Info("outbound message summary")
}

// msgCounter counts messages by type between two summaries.
type msgCounter struct {
	interval time.Duration

	mutex  sync.Mutex
	counts map[string]int
}

func (c *msgCounter) inc(msgType string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.counts[msgType]++
}

func (c *msgCounter) len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.counts)
}

// reset returns the counts and starts new ones.
func (c *msgCounter) reset() map[string]int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	counts := c.counts
	c.counts = make(map[string]int, len(counts))
	return counts
}

// isClosedErr reports whether the error is the end of the connection.
func isClosedErr(err error) bool {
	return err == io.EOF || strings.Contains(err.Error(), net.ErrClosed.Error())
}
