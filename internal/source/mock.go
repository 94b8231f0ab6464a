package source

import (
	"context"
	"sync"
)

// Mock is an in-process Source for tests and for running the analytics
// pipeline without capture hardware.
type Mock struct {
	mu       sync.Mutex
	starts   int
	stops    int
	restarts int

	StartErr   error
	StopErr    error
	RestartErr error
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.StartErr
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.StopErr
}

func (m *Mock) Restart(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	return m.RestartErr
}

// Calls reports how many times each control operation ran.
func (m *Mock) Calls() (starts, stops, restarts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, m.restarts
}
