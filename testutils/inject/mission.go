package inject

import (
	"context"
	"sync"
	"time"

	"github.com/lawnbot/motioncore/mission"
)

// StateRequest is one recorded RequestState call.
type StateRequest struct {
	State  mission.State
	Reason string
}

// Mission is a settable mission state machine that records transition requests.
type Mission struct {
	mu        sync.Mutex
	state     mission.State
	enteredAt time.Time
	Requests  []StateRequest

	// RequestStateFunc, if set, is called after the request is recorded.
	RequestStateFunc func(ctx context.Context, state mission.State, reason string)
}

// NewMission returns a machine in state, entered at enteredAt.
func NewMission(state mission.State, enteredAt time.Time) *Mission {
	return &Mission{state: state, enteredAt: enteredAt}
}

// Set moves the machine to state, entered at enteredAt.
func (m *Mission) Set(state mission.State, enteredAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.enteredAt = enteredAt
}

// State returns the current state.
func (m *Mission) State() mission.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnteredAt returns when the current state was entered.
func (m *Mission) EnteredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enteredAt
}

// RequestState records the request.
func (m *Mission) RequestState(ctx context.Context, state mission.State, reason string) {
	m.mu.Lock()
	m.Requests = append(m.Requests, StateRequest{state, reason})
	m.mu.Unlock()
	if m.RequestStateFunc != nil {
		m.RequestStateFunc(ctx, state, reason)
	}
}

// RequestsFor returns how many transitions to state were requested.
func (m *Mission) RequestsFor(state mission.State) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.State == state {
			n++
		}
	}
	return n
}
