package synth

import (
	"context"
	"time"
)

type mockEngine struct {
	sampleRate int
	channels   int
}

// NewMockEngine returns an engine that produces silence sized to roughly one
// word per 300ms of the input text. Useful for development and headless tests.
func NewMockEngine(sampleRate, channels int) Engine {
	return &mockEngine{sampleRate: sampleRate, channels: channels}
}

func (m *mockEngine) Synthesize(ctx context.Context, req Request) (Artifact, error) {
	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	words := 1
	for _, r := range req.Text {
		if r == ' ' {
			words++
		}
	}
	samples := m.sampleRate * words * 300 / 1000
	return Artifact{
		Data:       make([]byte, samples*m.channels*2),
		Format:     "pcm",
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}, nil
}
