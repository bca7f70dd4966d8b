package playback

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/synth"
)

// otoPlayer plays 16-bit little-endian PCM through the system audio device.
type otoPlayer struct {
	context    *oto.Context
	sampleRate int
	channels   int

	mu      sync.Mutex
	current *oto.Player
	stopped bool
	closed  bool
}

// NewOtoPlayer opens the audio device. The oto context is created once and
// fixes the sample rate and channel count for the life of the player.
func NewOtoPlayer(cfg config.PlaybackConfig) (Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	return &otoPlayer{
		context:    ctx,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}, nil
}

func (p *otoPlayer) Play(ctx context.Context, a synth.Artifact) (time.Duration, error) {
	if a.Format != "pcm" {
		return 0, fmt.Errorf("oto player requires pcm input, got %q", a.Format)
	}
	if a.SampleRate != p.sampleRate || a.Channels != p.channels {
		return 0, fmt.Errorf("artifact is %dHz/%dch but device is %dHz/%dch",
			a.SampleRate, a.Channels, p.sampleRate, p.channels)
	}
	if len(a.Data) == 0 {
		return 0, fmt.Errorf("artifact is empty")
	}

	// The data slice must stay referenced until the oto player is closed,
	// otherwise the GC can reclaim it mid-playback and produce static.
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	reader := bytes.NewReader(data)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, fmt.Errorf("player is closed")
	}
	player := p.context.NewPlayer(reader)
	p.current = player
	p.stopped = false
	p.mu.Unlock()

	start := time.Now()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.teardown(player)
			return time.Since(start), ErrStopped
		case <-ticker.C:
			p.mu.Lock()
			stopped := p.stopped
			p.mu.Unlock()
			if stopped {
				p.teardown(player)
				return time.Since(start), ErrStopped
			}
			if !player.IsPlaying() {
				p.teardown(player)
				return a.Duration(), nil
			}
		}
	}
}

func (p *otoPlayer) teardown(player *oto.Player) {
	player.Pause()
	_ = player.Close()
	p.mu.Lock()
	if p.current == player {
		p.current = nil
	}
	p.mu.Unlock()
}

func (p *otoPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.current != nil {
		p.current.Pause()
	}
}

func (p *otoPlayer) Close() error {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
