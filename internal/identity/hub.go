package identity

import (
	"sync"
	"time"
)

// IdentityChanged はサインイン / サインアウトの通知。
// サインアウトでは Identity が nil、Previous に直前のユーザーが入る。
type IdentityChanged struct {
	Identity *Identity
	Previous *Identity
	At       time.Time
}

// Hub は購読者へ IdentityChanged を配る。
// 受け取りが詰まっている購読者には送らない（発行側を止めない）。
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan IdentityChanged
}

func NewHub() *Hub {
	return &Hub{subs: map[int]chan IdentityChanged{}}
}

// Subscribe は受信チャネルと解除関数を返す。
func (h *Hub) Subscribe(buffer int) (<-chan IdentityChanged, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan IdentityChanged, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(ev IdentityChanged) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
