package synthesizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/voicekit-labs/voxd/internal/cache"
	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/protocol"
	"github.com/voicekit-labs/voxd/internal/synth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSynthConfig() config.SynthConfig {
	return config.SynthConfig{
		Engine:       "mock",
		DefaultVoice: "Joanna",
		OutputFormat: "ogg_vorbis",
		TextType:     "text",
		SampleRate:   22050,
		Channels:     1,
	}
}

type fakeEngine struct {
	err   error
	calls atomic.Int32
	last  synth.Request
}

func (f *fakeEngine) Synthesize(_ context.Context, req synth.Request) (synth.Artifact, error) {
	f.calls.Add(1)
	f.last = req
	if f.err != nil {
		return synth.Artifact{}, f.err
	}
	return synth.Artifact{
		Data:       make([]byte, 2000),
		Format:     "pcm",
		SampleRate: req.SampleRate,
		Channels:   1,
	}, nil
}

func newService(t *testing.T, engine synth.Engine) *Service {
	t.Helper()
	tmp := t.TempDir()
	store, err := cache.Open(context.Background(), config.CacheConfig{
		Enabled:   true,
		Path:      filepath.Join(tmp, "cache.db"),
		Directory: filepath.Join(tmp, "voices"),
		MaxBytes:  1_000_000,
	}, newLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(context.Background(), testSynthConfig(), nil, engine, store, newLogger())
}

func TestParseRequestDefaults(t *testing.T) {
	req, outputPath, err := parseRequest(testSynthConfig(), protocol.SynthesizeRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outputPath != "" {
		t.Fatalf("expected no output path, got %q", outputPath)
	}
	if req.Voice != "Joanna" {
		t.Fatalf("expected default voice Joanna, got %q", req.Voice)
	}
	if req.OutputFormat != "ogg_vorbis" {
		t.Fatalf("expected default format ogg_vorbis, got %q", req.OutputFormat)
	}
	if req.TextType != "text" {
		t.Fatalf("expected default text type, got %q", req.TextType)
	}
	if req.SampleRate != 22050 {
		t.Fatalf("expected 22050 for non-pcm output, got %d", req.SampleRate)
	}
}

func TestParseRequestPCMSampleRateDefault(t *testing.T) {
	req, _, err := parseRequest(testSynthConfig(), protocol.SynthesizeRequest{
		Text:     "hello",
		Metadata: `{"output_format":"pcm"}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.SampleRate != 16000 {
		t.Fatalf("expected 16000 for pcm output, got %d", req.SampleRate)
	}
}

func TestParseRequestMetadataOverrides(t *testing.T) {
	req, outputPath, err := parseRequest(testSynthConfig(), protocol.SynthesizeRequest{
		Text:     "<speak>hello</speak>",
		Metadata: `{"voice_id":"Amy","text_type":"ssml","sample_rate":"8000","output_path":"/tmp/test"}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Voice != "Amy" || req.TextType != "ssml" || req.SampleRate != 8000 {
		t.Fatalf("expected metadata overrides applied, got %+v", req)
	}
	if outputPath != "/tmp/test" {
		t.Fatalf("expected output path /tmp/test, got %q", outputPath)
	}
}

func TestParseRequestBadMetadata(t *testing.T) {
	_, _, err := parseRequest(testSynthConfig(), protocol.SynthesizeRequest{
		Text:     "hello",
		Metadata: "I am no JSON",
	})
	if err == nil {
		t.Fatal("expected error for malformed metadata")
	}
}

func TestSynthesizeCachesUtterance(t *testing.T) {
	engine := &fakeEngine{}
	svc := newService(t, engine)

	first := svc.synthesize(protocol.SynthesizeRequest{Text: "hello"})
	if first.Error != "" {
		t.Fatalf("unexpected error: %s", first.Error)
	}
	if first.Cached {
		t.Fatal("first synthesis must not be a cache hit")
	}
	if _, err := os.Stat(first.AudioPath); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}
	if first.AudioType != "wav" {
		t.Fatalf("expected wav audio type for pcm artifact, got %q", first.AudioType)
	}

	second := svc.synthesize(protocol.SynthesizeRequest{Text: "hello"})
	if !second.Cached {
		t.Fatal("second synthesis should hit the cache")
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("engine should be called once, got %d", engine.calls.Load())
	}

	// A different voice is a different utterance.
	third := svc.synthesize(protocol.SynthesizeRequest{Text: "hello", Metadata: `{"voice_id":"Amy"}`})
	if third.Cached {
		t.Fatal("different voice must miss the cache")
	}
}

func TestSynthesizeCallerManagedPathBypassesCache(t *testing.T) {
	engine := &fakeEngine{}
	svc := newService(t, engine)
	out := filepath.Join(t.TempDir(), "managed.wav")

	resp := svc.synthesize(protocol.SynthesizeRequest{
		Text:     "hello",
		Metadata: `{"output_path":"` + out + `"}`,
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.AudioPath != out {
		t.Fatalf("expected caller path %q, got %q", out, resp.AudioPath)
	}

	again := svc.synthesize(protocol.SynthesizeRequest{
		Text:     "hello",
		Metadata: `{"output_path":"` + out + `"}`,
	})
	if again.Cached {
		t.Fatal("caller-managed paths must bypass the cache")
	}
	if engine.calls.Load() != 2 {
		t.Fatalf("expected engine called twice, got %d", engine.calls.Load())
	}
}

func TestSynthesizeSurfacesEngineError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("throttled by backend")}
	svc := newService(t, engine)

	resp := svc.synthesize(protocol.SynthesizeRequest{Text: "hello"})
	if resp.Error != "throttled by backend" {
		t.Fatalf("expected engine error surfaced, got %q", resp.Error)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	svc := newService(t, &fakeEngine{})
	resp := svc.synthesize(protocol.SynthesizeRequest{Text: ""})
	if resp.Error == "" {
		t.Fatal("expected error for empty text")
	}
}

func TestPollyPassthrough(t *testing.T) {
	engine := &fakeEngine{}
	svc := newService(t, engine)

	resp := svc.pollySynthesize(protocol.PollyRequest{
		Text:         "hello",
		VoiceID:      "Joanna",
		OutputFormat: "pcm",
		SampleRate:   "16000",
		TextType:     "text",
	})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if len(resp.Audio) == 0 {
		t.Fatal("expected raw audio in response")
	}
	if engine.last.Voice != "Joanna" || engine.last.SampleRate != 16000 {
		t.Fatalf("expected raw params passed through, got %+v", engine.last)
	}
}

func TestPollyRejectsBadSampleRate(t *testing.T) {
	svc := newService(t, &fakeEngine{})
	resp := svc.pollySynthesize(protocol.PollyRequest{Text: "hello", SampleRate: "fast"})
	if resp.Error == "" {
		t.Fatal("expected error for bad sample rate")
	}
}
