package playback

import (
	"context"
	"sync"
	"time"

	"github.com/voicekit-labs/voxd/internal/synth"
)

// mockPlayer simulates playback by waiting out the artifact duration. Stop and
// context cancellation interrupt the wait.
type mockPlayer struct {
	mu   sync.Mutex
	stop chan struct{}
}

func NewMockPlayer() Player {
	return &mockPlayer{}
}

func (m *mockPlayer) Play(ctx context.Context, a synth.Artifact) (time.Duration, error) {
	m.mu.Lock()
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(a.Duration())
	defer timer.Stop()

	select {
	case <-timer.C:
		return a.Duration(), nil
	case <-stop:
		return time.Since(start), ErrStopped
	case <-ctx.Done():
		return time.Since(start), ErrStopped
	}
}

func (m *mockPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		select {
		case <-m.stop:
		default:
			close(m.stop)
		}
	}
}

func (m *mockPlayer) Close() error {
	m.Stop()
	return nil
}
