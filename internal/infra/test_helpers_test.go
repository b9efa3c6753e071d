package infra

import (
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	findResult map[string][]int
	findErr    error
	killErr    error
	killedPIDs []int
	running    map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		findResult: make(map[string][]int),
		running:    make(map[int]bool),
	}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.findResult[pattern], nil
}

func (m *mockProcessManager) Kill(pid int) error {
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.running[pid]
}

var _ domain.ProcessManager = (*mockProcessManager)(nil)
