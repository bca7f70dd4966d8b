package synth

import (
	"context"
	"time"
)

// Request contains parameters for a single synthesis call.
type Request struct {
	Text         string
	Voice        string
	OutputFormat string // pcm, wav, ogg_vorbis
	TextType     string // text, ssml
	SampleRate   int
	Channels     int
	Rate         float64 // speaking rate multiplier, 0 means engine default
	Pitch        float64 // pitch shift in semitones, 0 means engine default
}

// Artifact is the synthesized audio produced by an engine.
type Artifact struct {
	Data       []byte
	Format     string // pcm, wav, ogg_vorbis
	SampleRate int
	Channels   int
}

// Duration reports the playback length of a PCM artifact. Non-PCM formats
// return zero; the playback layer only consumes PCM.
func (a Artifact) Duration() time.Duration {
	if a.Format != "pcm" || a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.Data) / (a.Channels * 2)
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Engine is the contract for producing audio from text.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (Artifact, error)
}
