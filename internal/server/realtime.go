package server

import (
	"context"
	"sync"
	"time"
)

const (
	// RealtimeEventStatusChanged announces an accepted status transition.
	RealtimeEventStatusChanged = "status-change"
	// RealtimeEventNoteAdded announces a new note on a submission.
	RealtimeEventNoteAdded = "note-added"
	// RealtimeEventMention carries the judge names mentioned by a new note.
	RealtimeEventMention   = "mention"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "jury-api"
	defaultRealtimeBuffer  = 16
)

// RealtimeMessage is one event fanned out to every subscriber of a group.
type RealtimeMessage struct {
	GroupID   string
	EventType string
	Data      interface{}
	Timestamp time.Time
}

// RealtimeDispatcher fans group events out to buffered subscriber channels.
// A subscriber that falls behind misses events rather than blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBuffer,
	}
}

// Subscribe registers for groupID's events until ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, groupID string) (<-chan RealtimeMessage, func()) {
	if groupID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(groupID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(groupID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.GroupID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.GroupID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many streams are open for groupID.
func (d *RealtimeDispatcher) SubscriberCount(groupID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[groupID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(groupID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[groupID]; !ok {
		d.subscribers[groupID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[groupID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(groupID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[groupID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, groupID)
		}
	}
	d.mu.Unlock()
}
