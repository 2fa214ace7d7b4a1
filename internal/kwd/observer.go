package kwd

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
)

// State is the detector state reported to StateObserver
type State int

const (
	StateInactive State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActive:
		return "ACTIVE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// KeyWordObserver is notified when the keyword is detected. beginIndex is
// UnspecifiedIndex when the engine does not report where the keyword
// started; endIndex is the stream position at the time of detection.
type KeyWordObserver interface {
	OnKeyWordDetected(stream *audio.Stream, keyword string, beginIndex, endIndex audio.Index)
}

// StateObserver is notified when the detector state changes
type StateObserver interface {
	OnStateChanged(state State)
}

// registry holds the observer sets and the last reported state. Observers
// are keyed by identity and must be comparable (typically pointers).
type registry struct {
	mu               sync.Mutex
	keyWordObservers map[KeyWordObserver]struct{}
	stateObservers   map[StateObserver]struct{}
	state            State
	logger           *slog.Logger
}

func newRegistry(logger *slog.Logger) registry {
	return registry{
		keyWordObservers: make(map[KeyWordObserver]struct{}),
		stateObservers:   make(map[StateObserver]struct{}),
		state:            StateInactive,
		logger:           logger,
	}
}

// AddKeyWordObserver registers obs for keyword notifications
func (r *registry) AddKeyWordObserver(obs KeyWordObserver) {
	if obs == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyWordObservers[obs] = struct{}{}
}

// RemoveKeyWordObserver unregisters obs
func (r *registry) RemoveKeyWordObserver(obs KeyWordObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keyWordObservers, obs)
}

// AddStateObserver registers obs for state notifications
func (r *registry) AddStateObserver(obs StateObserver) {
	if obs == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateObservers[obs] = struct{}{}
}

// RemoveStateObserver unregisters obs
func (r *registry) RemoveStateObserver(obs StateObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stateObservers, obs)
}

// State returns the last state reported to observers
func (r *registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *registry) notifyKeyWordObservers(stream *audio.Stream, keyword string, beginIndex, endIndex audio.Index) {
	r.mu.Lock()
	observers := make([]KeyWordObserver, 0, len(r.keyWordObservers))
	for obs := range r.keyWordObservers {
		observers = append(observers, obs)
	}
	r.mu.Unlock()

	for _, obs := range observers {
		r.safeCall("keyword", func() {
			obs.OnKeyWordDetected(stream, keyword, beginIndex, endIndex)
		})
	}
}

// notifyStateObservers reports state only if it differs from the last one
func (r *registry) notifyStateObservers(state State) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	observers := make([]StateObserver, 0, len(r.stateObservers))
	for obs := range r.stateObservers {
		observers = append(observers, obs)
	}
	r.mu.Unlock()

	for _, obs := range observers {
		r.safeCall("state", func() {
			obs.OnStateChanged(state)
		})
	}
}

// safeCall runs an observer callback, logging instead of propagating a panic
func (r *registry) safeCall(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Observer panicked",
				slog.String("kind", kind),
				slog.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	fn()
}
