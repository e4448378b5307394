// Package feed broadcasts completed analyses to websocket subscribers.
// New subscribers first receive the most recent events from a small backlog.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Number of events that we will buffer on the send side of each subscriber,
// before dropping events to that subscriber.
const SendBufferSize = 32

const DefaultBacklog = 20

// Event is a compact description of a finished analysis.
// SYNC-FEED-EVENT
type Event struct {
	Type       string    `json:"type"` // Always "analysis"
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Scene      string    `json:"scene,omitempty"`
	RiskScore  float64   `json:"riskScore"`
	Similarity float64   `json:"similarity"`
	Anomalies  int       `json:"anomalies"`
	Degraded   bool      `json:"degraded"`
	Summary    string    `json:"summary"`
}

type subscriber struct {
	id        int64
	sendQueue chan []byte
	dropped   int64
}

// Hub fans out events to every connected websocket
type Hub struct {
	log        logs.Log
	upgrader   websocket.Upgrader
	lock       sync.Mutex
	backlog    ringbuffer.RingP[*Event]
	maxBacklog int
	subs       map[int64]*subscriber
	nextSubID  atomic.Int64
	nPublished atomic.Int64
}

func NewHub(log logs.Log, backlog int) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	// The ring holds one less than its power-of-2 size
	ringSize := 2
	for ringSize < backlog+1 {
		ringSize *= 2
	}
	return &Hub{
		log:        log,
		backlog:    ringbuffer.NewRingP[*Event](ringSize),
		maxBacklog: backlog,
		subs:       map[int64]*subscriber{},
	}
}

// Publish sends the event to all subscribers, and adds it to the backlog.
// Publish never blocks on a slow subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Type == "" {
		ev.Type = "analysis"
	}
	j, err := json.Marshal(&ev)
	if err != nil {
		h.log.Errorf("Failed to marshal feed event: %v", err)
		return
	}
	h.nPublished.Add(1)

	h.lock.Lock()
	defer h.lock.Unlock()
	for h.backlog.Len() >= h.maxBacklog {
		h.backlog.Next()
	}
	h.backlog.Add(&ev)
	for _, s := range h.subs {
		h.enqueue(s, j)
	}
}

// Recent returns the backlog, oldest first
func (h *Hub) Recent() []Event {
	h.lock.Lock()
	defer h.lock.Unlock()
	out := make([]Event, 0, h.backlog.Len())
	for i := 0; i < h.backlog.Len(); i++ {
		out = append(out, *h.backlog.Peek(i))
	}
	return out
}

// Returns the number of connected websockets
func (h *Hub) NumSubscribers() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subs)
}

// Must be called with h.lock held
func (h *Hub) enqueue(s *subscriber, msg []byte) {
	if len(s.sendQueue) >= SendBufferSize {
		s.dropped++
		if s.dropped%10 == 1 {
			h.log.Warnf("Feed subscriber %v is slow. Dropped %v events", s.id, s.dropped)
		}
		return
	}
	s.sendQueue <- msg
}

// ServeWS upgrades the request to a websocket, and streams events to it until the client disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("Feed websocket upgrade failed: %v", err)
		return
	}

	s := &subscriber{
		id:        h.nextSubID.Add(1),
		sendQueue: make(chan []byte, SendBufferSize),
	}

	// Register and send the backlog under the same lock, so that no event is missed or duplicated
	h.lock.Lock()
	for i := 0; i < h.backlog.Len(); i++ {
		j, _ := json.Marshal(h.backlog.Peek(i))
		h.enqueue(s, j)
	}
	h.subs[s.id] = s
	h.lock.Unlock()

	h.log.Infof("Feed subscriber %v connected from %v", s.id, r.RemoteAddr)

	readerDone := make(chan bool)
	go h.webSocketReader(conn, readerDone)
	writerDone := make(chan bool)
	go h.webSocketWriter(conn, s, writerDone)

	select {
	case <-readerDone:
	case <-writerDone:
	}

	h.lock.Lock()
	delete(h.subs, s.id)
	close(s.sendQueue)
	h.lock.Unlock()
	conn.Close()

	h.log.Infof("Feed subscriber %v disconnected", s.id)
}

// The client never sends us anything meaningful, but we must read in order to
// process control frames, and to detect when the connection is closed.
func (h *Hub) webSocketReader(conn *websocket.Conn, done chan bool) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
}

// Run a thread that is responsible for writing to the websocket, so that a slow
// client cannot block Publish.
func (h *Hub) webSocketWriter(conn *websocket.Conn, s *subscriber, done chan bool) {
	defer close(done)
	for msg := range s.sendQueue {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Infof("Error writing to feed subscriber %v: %v", s.id, err)
			return
		}
	}
}
