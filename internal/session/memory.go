package session

import (
	"context"
	"sync"

	"github.com/suPer8Hu/podflix/internal/ai"
)

// Memory keeps state in the process. It is lost on restart.
type Memory struct {
	mu      sync.Mutex
	states  map[string]State
	running map[string]bool
}

func NewMemory() *Memory {
	return &Memory{states: map[string]State{}, running: map[string]bool{}}
}

func (m *Memory) Get(_ context.Context, id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return copyState(s), nil
}

func (m *Memory) Put(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.SessionID] = copyState(s)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

func (m *Memory) Acquire(_ context.Context, id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[id] {
		return nil, ErrRunInProgress
	}
	m.running[id] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
		})
	}, nil
}

// callers must not share History slices with the stored copy
func copyState(s State) State {
	s.History = append([]ai.Message(nil), s.History...)
	return s
}
