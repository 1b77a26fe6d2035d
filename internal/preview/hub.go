package preview

import (
	"sync"

	"go.uber.org/zap"
)

const subscriberBufferSize = 4

// ReloadEvent announces that the files under the preview root changed.
type ReloadEvent struct {
	Paths []string
}

// Hub fans reload notifications out to connected clients. Slow subscribers
// drop events rather than block the notifier.
type Hub struct {
	mutex       sync.Mutex
	subscribers map[chan ReloadEvent]struct{}
	logger      *zap.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subscribers: make(map[chan ReloadEvent]struct{}), logger: logger}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (hub *Hub) Subscribe() (<-chan ReloadEvent, func()) {
	channel := make(chan ReloadEvent, subscriberBufferSize)
	hub.mutex.Lock()
	hub.subscribers[channel] = struct{}{}
	hub.mutex.Unlock()

	var once sync.Once
	return channel, func() {
		once.Do(func() {
			hub.mutex.Lock()
			delete(hub.subscribers, channel)
			hub.mutex.Unlock()
			close(channel)
		})
	}
}

// Subscribers reports the number of active listeners.
func (hub *Hub) Subscribers() int {
	if hub == nil {
		return 0
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.subscribers)
}

// NotifyReload delivers an event to every subscriber.
func (hub *Hub) NotifyReload(paths []string) {
	if hub == nil {
		return
	}
	event := ReloadEvent{Paths: append([]string(nil), paths...)}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	dropped := 0
	for channel := range hub.subscribers {
		select {
		case channel <- event:
		default:
			dropped++
		}
	}
	hub.logger.Debug("reload notified",
		zap.Int("subscribers", len(hub.subscribers)),
		zap.Int("dropped", dropped),
		zap.Strings("paths", event.Paths),
	)
}
