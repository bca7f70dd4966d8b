package playback

import (
	"context"
	"errors"
	"time"

	"github.com/voicekit-labs/voxd/internal/synth"
)

// ErrStopped is returned by Play when playback was interrupted by Stop or by
// context cancellation.
var ErrStopped = errors.New("playback stopped")

// Player renders a synthesized artifact on the audio device. The device is an
// exclusive resource: a Player instance owns it, and at most one Play call is
// in flight at a time. Play blocks until the artifact finished rendering,
// returning the played duration.
type Player interface {
	Play(ctx context.Context, a synth.Artifact) (time.Duration, error)
	Stop()
	Close() error
}
