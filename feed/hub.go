package feed

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/quadtree"
)

const defaultSubscriberBufferSize = 32

// Hub fans frame summaries out to the connected clients. HandleFrame is meant
// to be registered as a frame handler of the loop dispatcher.
type Hub struct {
	// The number of frames between two published summaries. Zero or one
	// publishes every frame.
	Every int

	// Returns the tiles rendered during the last frame.
	Snapshot func() ([]quadtree.VisibleTile, quadtree.FrameStats)

	mutex       sync.RWMutex
	subscribers map[string]chan Msg
	frames      uint64
}

// HandleFrame publishes the summary of a frame to every subscriber. Slow
// subscribers whose buffer is full miss the summary.
func (h *Hub) HandleFrame(stats quadtree.FrameStats) {
	h.mutex.Lock()
	h.frames++
	publish := h.Every <= 1 || h.frames%uint64(h.Every) == 0
	h.mutex.Unlock()

	if !publish {
		return
	}

	msg, err := FrameMsg(stats)
	if err != nil {
		logs.Warn(err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for clientID, c := range h.subscribers {
		select {
		case c <- msg:
		default:
			instrumentDroppedMsg(msg.Type)
			logs.WithTag(logs.ClientIDTag, clientID).
				WithTag("frame", stats.Frame).
				Debug("frame summary dropped")
		}
	}
}

// Subscribe registers a client. The returned channel receives the frame
// summaries until unsubscribe is called.
func (h *Hub) Subscribe(clientID string, bufferSize int) (frames <-chan Msg, unsubscribe func()) {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBufferSize
	}
	c := make(chan Msg, bufferSize)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.subscribers == nil {
		h.subscribers = make(map[string]chan Msg)
	}
	h.subscribers[clientID] = c
	instrumentSubscribers(len(h.subscribers))

	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mutex.Lock()
			defer h.mutex.Unlock()

			if h.subscribers[clientID] == c {
				delete(h.subscribers, clientID)
			}
			instrumentSubscribers(len(h.subscribers))
		})
	}
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.subscribers)
}
