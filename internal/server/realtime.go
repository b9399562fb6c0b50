package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
)

const (
	RealtimeEventSettingsChanged = "settings-change"
	realtimeEventHeartbeat       = "heartbeat"
	realtimeSourceBackend        = "weatherdash-api"
)

// RealtimeMessage carries a full settings document to the owner's streams.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Settings  settings.UserSettings
	Timestamp time.Time
}

// RealtimeDispatcher fans settings documents out to per-user subscribers.
// Each message carries the whole document, so a subscriber that has not yet
// read its pending message gets it replaced by the newer one; publishers never
// block.
type RealtimeDispatcher struct {
	mu      sync.Mutex
	streams map[string]map[uint64]chan RealtimeMessage
	nextID  uint64
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{streams: make(map[string]map[uint64]chan RealtimeMessage)}
}

// Subscribe registers a stream for userID. The stream closes when ctx ends or
// the returned release function runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	stream := make(chan RealtimeMessage, 1)
	if userID == "" {
		close(stream)
		return stream, func() {}
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.streams[userID] == nil {
		d.streams[userID] = make(map[uint64]chan RealtimeMessage)
	}
	d.streams[userID][id] = stream
	d.mu.Unlock()

	unsubscribe := sync.OnceFunc(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		owned := d.streams[userID]
		delete(owned, id)
		if len(owned) == 0 {
			delete(d.streams, userID)
		}
		close(stream)
	})
	stop := context.AfterFunc(ctx, unsubscribe)
	return stream, func() {
		stop()
		unsubscribe()
	}
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, stream := range d.streams[message.UserID] {
		replacePending(stream, message)
	}
}

func replacePending(stream chan RealtimeMessage, message RealtimeMessage) {
	for {
		select {
		case stream <- message:
			return
		default:
		}
		select {
		case <-stream:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams[userID])
}
