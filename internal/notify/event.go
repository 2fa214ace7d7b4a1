package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
)

// EventType distinguishes detections from state changes
type EventType string

const (
	EventKeyword EventType = "keyword"
	EventState   EventType = "state"
)

// Event is the JSON form of a detector notification delivered to HTTP,
// WebSocket and webhook consumers
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Keyword    string    `json:"keyword,omitempty"`
	BeginIndex *uint64   `json:"begin_index,omitempty"`
	EndIndex   *uint64   `json:"end_index,omitempty"`
	State      string    `json:"state,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewKeywordEvent builds a keyword event. Indices equal to
// kwd.UnspecifiedIndex are omitted from the JSON.
func NewKeywordEvent(keyword string, beginIndex, endIndex audio.Index) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventKeyword,
		Keyword:    keyword,
		BeginIndex: indexPtr(beginIndex),
		EndIndex:   indexPtr(endIndex),
		Timestamp:  time.Now().UTC(),
	}
}

func indexPtr(i audio.Index) *uint64 {
	if i == kwd.UnspecifiedIndex {
		return nil
	}
	v := uint64(i)
	return &v
}

// NewStateEvent builds a state change event
func NewStateEvent(state kwd.State) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventState,
		State:     state.String(),
		Timestamp: time.Now().UTC(),
	}
}
