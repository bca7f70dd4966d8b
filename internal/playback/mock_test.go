package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicekit-labs/voxd/internal/synth"
)

func shortArtifact(ms int) synth.Artifact {
	samples := 16000 * ms / 1000
	return synth.Artifact{
		Data:       make([]byte, samples*2),
		Format:     "pcm",
		SampleRate: 16000,
		Channels:   1,
	}
}

func TestMockPlayerReportsDuration(t *testing.T) {
	p := NewMockPlayer()
	defer p.Close()

	d, err := p.Play(context.Background(), shortArtifact(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d < 20*time.Millisecond {
		t.Fatalf("expected at least 20ms of playback, got %v", d)
	}
}

func TestMockPlayerStopInterrupts(t *testing.T) {
	p := NewMockPlayer()
	defer p.Close()

	done := make(chan error, 1)
	go func() {
		_, err := p.Play(context.Background(), shortArtifact(5000))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interrupted playback")
	}
}

func TestMockPlayerContextCancellation(t *testing.T) {
	p := NewMockPlayer()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Play(ctx, shortArtifact(5000))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from cancelled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled playback")
	}
}
