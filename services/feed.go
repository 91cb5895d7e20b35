package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Change feed tables. One pub/sub channel per table.
const (
	TableQueue   = "matchmaking_queue"
	TableRooms   = "quiz_rooms"
	TablePlayers = "quiz_room_players"
	TableAnswers = "quiz_room_answers"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row-change notification. New carries the row after the
// change (nil for DELETE), Old the row before it (nil for INSERT).
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeType      `json:"type"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

func (e ChangeEvent) DecodeNew(v interface{}) error {
	if e.New == nil {
		return nil
	}
	return json.Unmarshal(e.New, v)
}

func (e ChangeEvent) DecodeOld(v interface{}) error {
	if e.Old == nil {
		return nil
	}
	return json.Unmarshal(e.Old, v)
}

// Feed delivers row-change notifications to subscribers. Delivery is
// asynchronous and at-least-once; handlers must tolerate duplicates and
// events for rows that no longer matter to them.
type Feed interface {
	Publish(ctx context.Context, event ChangeEvent)
	// Subscribe registers fn for one table and returns an unsubscribe func.
	Subscribe(table string, fn func(ChangeEvent)) func()
}

// NewChange builds a ChangeEvent, marshaling the row values. A nil value is
// omitted.
func NewChange(table string, changeType ChangeType, newRow, oldRow interface{}) ChangeEvent {
	event := ChangeEvent{Table: table, Type: changeType}
	if newRow != nil {
		data, err := json.Marshal(newRow)
		if err != nil {
			log.Printf("Failed to marshal change payload for %s: %v", table, err)
		} else {
			event.New = data
		}
	}
	if oldRow != nil {
		data, err := json.Marshal(oldRow)
		if err != nil {
			log.Printf("Failed to marshal change payload for %s: %v", table, err)
		} else {
			event.Old = data
		}
	}
	return event
}

// RedisFeed carries change events over redis pub/sub, one channel per table.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func feedChannel(table string) string {
	return "changes:" + table
}

func (f *RedisFeed) Publish(ctx context.Context, event ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal change event for %s: %v", event.Table, err)
		return
	}

	if err := f.client.Publish(ctx, feedChannel(event.Table), data).Err(); err != nil {
		log.Printf("Failed to publish change event for %s: %v", event.Table, err)
	}
}

func (f *RedisFeed) Subscribe(table string, fn func(ChangeEvent)) func() {
	pubsub := f.client.Subscribe(context.Background(), feedChannel(table))

	go func() {
		for msg := range pubsub.Channel() {
			var event ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("Failed to unmarshal change event on %s: %v", msg.Channel, err)
				continue
			}
			fn(event)
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("Failed to close subscription on %s: %v", feedChannel(table), err)
		}
	}
}

// MemoryFeed is an in-process Feed for tests and single-node development.
// Like the redis feed it delivers asynchronously.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[string]map[int]func(ChangeEvent)
	next int
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]func(ChangeEvent))}
}

func (f *MemoryFeed) Publish(_ context.Context, event ChangeEvent) {
	f.mu.Lock()
	handlers := make([]func(ChangeEvent), 0, len(f.subs[event.Table]))
	for _, fn := range f.subs[event.Table] {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		go fn(event)
	}
}

func (f *MemoryFeed) Subscribe(table string, fn func(ChangeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs[table] == nil {
		f.subs[table] = make(map[int]func(ChangeEvent))
	}
	id := f.next
	f.next++
	f.subs[table][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[table], id)
	}
}
