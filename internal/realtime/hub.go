package realtime

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"bookshop/internal/domain/model"
)

const (
	adminChannel  = "orders:admin"
	channelPrefix = "orders:"

	defaultBuffer = 64
)

// 接続中のユーザー
type Principal struct {
	UserID int64
	Role   string
}

// orders:{id} は本人のみ、orders:admin は管理者のみ
func CanSubscribe(p Principal, channel string) bool {
	if p.UserID <= 0 {
		return false
	}
	if channel == adminChannel {
		return model.Role(p.Role) == model.RoleAdmin
	}
	if !strings.HasPrefix(channel, channelPrefix) {
		return false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(channel, channelPrefix), 10, 64)
	if err != nil {
		return false
	}
	return id == p.UserID
}

type Subscriber struct {
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// 制御メッセージは落とさない（接続が閉じたら諦める）
func (s *Subscriber) reply(msg []byte) {
	select {
	case s.send <- msg:
	case <-s.closed:
	}
}

// プロセス内のチャネル→購読者の配送。
// 遅い購読者宛ては捨てる（at-most-once）
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscriber]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Subscriber{send: make(chan []byte, buffer), closed: make(chan struct{})}
}

func (h *Hub) Subscribe(channel string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) Unsubscribe(channel string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(channel, s)
}

// 全チャネルから外す
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		h.unsubscribeLocked(ch, s)
	}
}

func (h *Hub) unsubscribeLocked(channel string, s *Subscriber) {
	set, ok := h.subs[channel]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, channel)
	}
}

// ブロックしない
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[channel] {
		select {
		case s.send <- payload:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// 購読者が詰まっていて捨てた件数
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
