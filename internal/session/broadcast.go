package session

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Broadcaster fans a clear notice out to interested parties. Delivery is
// best-effort: publishers must never block or fail the clear operation.
type Broadcaster interface {
	Publish(notice ClearNotice)
}

// Hub delivers clear notices to in-process subscribers, typically open
// event streams. A slow subscriber drops notices rather than blocking.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan ClearNotice
	next int
}

var _ Broadcaster = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan ClearNotice)}
}

// Subscribe registers a listener. The returned cancel function must be
// called when the listener goes away.
func (h *Hub) Subscribe() (<-chan ClearNotice, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan ClearNotice, 8)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (h *Hub) Publish(notice ClearNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- notice:
		default:
		}
	}
}

// NATSPublisher mirrors clear notices onto a NATS subject so other
// memoryd processes sharing the durable store can evict their caches.
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	logger  *zap.Logger
	onClear func(ClearNotice)
	sub     *nats.Subscription
}

var _ Broadcaster = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS and, when onClear is non-nil,
// subscribes to clear notices from other processes.
func NewNATSPublisher(url, prefix string, logger *zap.Logger, onClear func(ClearNotice)) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("memoryd"),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, err
	}

	p := &NATSPublisher{
		conn:    conn,
		prefix:  prefix,
		logger:  logger.Named("nats"),
		onClear: onClear,
	}

	if onClear != nil {
		sub, err := conn.Subscribe(prefix+".clear.>", func(msg *nats.Msg) {
			var notice ClearNotice
			if err := json.Unmarshal(msg.Data, &notice); err != nil {
				p.logger.Warn("malformed clear notice", zap.Error(err))
				return
			}
			onClear(notice)
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		p.sub = sub
	}
	return p, nil
}

// Connected reports whether the NATS connection is currently up.
func (p *NATSPublisher) Connected() bool {
	return p.conn.IsConnected()
}

func (p *NATSPublisher) Publish(notice ClearNotice) {
	data, err := json.Marshal(notice)
	if err != nil {
		p.logger.Warn("encode clear notice", zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.prefix+".clear."+notice.ProjectID, data); err != nil {
		p.logger.Warn("publish clear notice", zap.Error(err))
	}
}

func (p *NATSPublisher) Close() {
	if p.sub != nil {
		p.sub.Unsubscribe()
	}
	p.conn.Close()
}
