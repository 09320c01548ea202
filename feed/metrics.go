package feed

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel  = "error_type"
	msgTypeLabel  = "msg_type"
	endpointLabel = "endpoint"
)

var (
	feedConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feed_connected_clients",
		Help: "The number of connected feed clients.",
	}, []string{endpointLabel})

	feedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_subscribers",
		Help: "The number of clients subscribed to the frame summaries.",
	})

	feedReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_received_msgs",
		Help: "The number of messages received from feed clients.",
	}, []string{endpointLabel, msgTypeLabel})

	feedReceiveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_receive_errors",
		Help: "The errors that occured while receiving a feed message.",
	}, []string{endpointLabel, errTypeLabel})

	feedSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_sent_msgs",
		Help: "The number of messages sent to feed clients.",
	}, []string{endpointLabel, msgTypeLabel})

	feedSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_sent_bytes",
		Help: "The number of bytes sent to feed clients.",
	}, []string{endpointLabel, msgTypeLabel})

	feedSendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_send_errors",
		Help: "The errors that occured while sending a feed message.",
	}, []string{endpointLabel, errTypeLabel, msgTypeLabel})

	feedDroppedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_dropped_msgs",
		Help: "The number of messages dropped because a client did not keep up.",
	}, []string{msgTypeLabel})

	feedMsgLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "feed_msg_latency",
		Help: "The time to process a feed message.",
	}, []string{endpointLabel, msgTypeLabel})
)

func instrumentDroppedMsg(msgType string) {
	feedDroppedMsgs.
		With(prometheus.Labels{msgTypeLabel: msgType}).
		Inc()
}

func instrumentSubscribers(n int) {
	feedSubscribers.Set(float64(n))
}

// HandlerWithMetrics records the traffic of a handler.
func HandlerWithMetrics(h Handler, endpoint string) Handler {
	return &handlerWithMetrics{
		Handler:  h,
		endpoint: endpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	endpoint string
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	feedConnectedClients.
		With(prometheus.Labels{endpointLabel: h.endpoint}).
		Inc()

	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	feedConnectedClients.
		With(prometheus.Labels{endpointLabel: h.endpoint}).
		Dec()

	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandlePing(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleSnapshotRequest(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandleSnapshotRequest(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil {
			feedReceiveErrors.
				With(prometheus.Labels{
					endpointLabel: h.endpoint,
					errTypeLabel:  errors.Type(err),
				}).
				Inc()
		} else {
			feedReceivedMsgs.
				With(prometheus.Labels{
					endpointLabel: h.endpoint,
					msgTypeLabel:  msg.TypeString(),
				}).
				Inc()
		}
		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil {
			feedSendErrors.
				With(prometheus.Labels{
					endpointLabel: h.endpoint,
					errTypeLabel:  errors.Type(err),
					msgTypeLabel:  msgType,
				}).
				Inc()
		}

		if n != 0 {
			feedSentMsgs.
				With(prometheus.Labels{
					endpointLabel: h.endpoint,
					msgTypeLabel:  msgType,
				}).
				Inc()
			feedSentBytes.
				With(prometheus.Labels{
					endpointLabel: h.endpoint,
					msgTypeLabel:  msgType,
				}).
				Add(float64(n))
		}
		return n, err
	}
}

func (h *handlerWithMetrics) measureLatency(msg Msg, f func() error) error {
	start := time.Now()
	err := f()

	feedMsgLatency.With(prometheus.Labels{
		endpointLabel: h.endpoint,
		msgTypeLabel:  msg.TypeString(),
	}).Observe(time.Since(start).Seconds())

	return err
}
