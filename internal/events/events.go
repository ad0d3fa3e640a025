// Package events publishes session and guild lifecycle notifications to
// subscribers over buffered channels.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/guildwire/guildwire/internal/constants"
	"github.com/guildwire/guildwire/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventGuildReady       EventType = "guild_ready"       // Guild fully constructed (first time or after recovery)
	EventGuildUnavailable EventType = "guild_unavailable" // Outage notice for a guild
	EventGuildRemoved     EventType = "guild_removed"     // Left, kicked, or deleted
	EventSessionReady     EventType = "session_ready"     // Every guild from READY is ready or confirmed unavailable
	EventConnection       EventType = "connection"        // Gateway connection state changed
)

// ConnectionState is the gateway connection state carried by ConnectionEvent.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateIdentifying  ConnectionState = "identifying"
	StateResuming     ConnectionState = "resuming"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateClosed       ConnectionState = "closed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// GuildEvent reports a guild lifecycle transition.
type GuildEvent struct {
	BaseEvent
	GuildID     models.Snowflake
	Name        string
	MemberCount int
	Members     int  // members actually cached
	Partial     bool // finalized by the chunk timeout
}

// SessionEvent reports the end of the initial guild load.
type SessionEvent struct {
	BaseEvent
	SessionID   string
	Guilds      int
	Unavailable int
}

// ConnectionEvent reports gateway connection changes.
type ConnectionEvent struct {
	BaseEvent
	State   ConnectionState
	Attempt int
	Error   error
}

// subscription is one subscriber channel and the events it wants.
type subscription struct {
	ch    chan Event
	types map[EventType]bool // nil means every type
	guild models.Snowflake   // non-zero restricts guild events to one guild
}

func (s *subscription) wants(event Event) bool {
	if s.types != nil && !s.types[event.Type()] {
		return false
	}
	if s.guild == 0 {
		return true
	}
	ge, ok := event.(*GuildEvent)
	return ok && ge.GuildID == s.guild
}

// EventBus fans lifecycle events out to subscribers. Publishing never blocks;
// events for a full subscriber are dropped and counted.
type EventBus struct {
	mu            sync.RWMutex
	subs          []*subscription
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{bufferSize: bufferSize}
}

func (eb *EventBus) add(sub *subscription) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.subs = append(eb.subs, sub)
	return sub.ch
}

func newSubscription(size int, guild models.Snowflake, types []EventType) *subscription {
	sub := &subscription{ch: make(chan Event, size), guild: guild}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	return sub
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given. The channel is closed by Close.
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	return eb.add(newSubscription(eb.bufferSize, 0, types))
}

// SubscribeAll returns a channel receiving every event.
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.Subscribe()
}

// SubscribeGuild returns a channel receiving guild events for one guild.
func (eb *EventBus) SubscribeGuild(guildID models.Snowflake, types ...EventType) <-chan Event {
	if len(types) == 0 {
		types = []EventType{EventGuildReady, EventGuildUnavailable, EventGuildRemoved}
	}
	return eb.add(newSubscription(eb.bufferSize, guildID, types))
}

// Publish delivers event to every interested subscriber without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, sub := range eb.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Unsubscribe stops delivery to ch and closes it.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, sub := range eb.subs {
		if sub.ch == ch {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			if !eb.closed {
				close(sub.ch)
			}
			return
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}

// DroppedEvents returns the number of events dropped because a subscriber
// was full.
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEvents zeroes the drop counter and returns its previous value.
func (eb *EventBus) ResetDroppedEvents() int64 {
	return eb.droppedEvents.Swap(0)
}

// PublishGuild is a convenience method for publishing guild events
func (eb *EventBus) PublishGuild(eventType EventType, guildID models.Snowflake, name string, memberCount, members int, partial bool) {
	eb.Publish(&GuildEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Time:      time.Now(),
		},
		GuildID:     guildID,
		Name:        name,
		MemberCount: memberCount,
		Members:     members,
		Partial:     partial,
	})
}

// PublishSessionReady is a convenience method for publishing the end of the
// initial guild load
func (eb *EventBus) PublishSessionReady(sessionID string, guilds, unavailable int) {
	eb.Publish(&SessionEvent{
		BaseEvent: BaseEvent{
			EventType: EventSessionReady,
			Time:      time.Now(),
		},
		SessionID:   sessionID,
		Guilds:      guilds,
		Unavailable: unavailable,
	})
}

// PublishConnection is a convenience method for publishing connection changes
func (eb *EventBus) PublishConnection(state ConnectionState, attempt int, err error) {
	eb.Publish(&ConnectionEvent{
		BaseEvent: BaseEvent{
			EventType: EventConnection,
			Time:      time.Now(),
		},
		State:   state,
		Attempt: attempt,
		Error:   err,
	})
}
