package synth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func TestArtifactDuration(t *testing.T) {
	a := Artifact{
		Data:       make([]byte, 22050*2), // one second, mono, 16-bit
		Format:     "pcm",
		SampleRate: 22050,
		Channels:   1,
	}
	if got := a.Duration(); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}

	ogg := Artifact{Data: []byte{1, 2, 3}, Format: "ogg_vorbis"}
	if got := ogg.Duration(); got != 0 {
		t.Fatalf("expected zero duration for non-pcm, got %v", got)
	}
}

func TestMockEngineProducesPCM(t *testing.T) {
	engine := NewMockEngine(22050, 1)
	a, err := engine.Synthesize(context.Background(), Request{Text: "hello there world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Format != "pcm" || a.SampleRate != 22050 || a.Channels != 1 {
		t.Fatalf("unexpected artifact shape: %+v", a)
	}
	if len(a.Data) == 0 || len(a.Data)%2 != 0 {
		t.Fatalf("expected aligned pcm payload, got %d bytes", len(a.Data))
	}
}

func TestMockEngineHonorsCancellation(t *testing.T) {
	engine := NewMockEngine(22050, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Synthesize(ctx, Request{Text: "hello"}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestNewExecEngineRejectsBadCommand(t *testing.T) {
	if _, err := NewExecEngine("", 22050, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecEngine(`piper "unterminated`, 22050, 1); err == nil {
		t.Fatal("expected error for unparsable command")
	}
}

func TestWriteArtifactEncodesPCMAsWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	a := Artifact{
		Data:       make([]byte, 1600*2),
		Format:     "pcm",
		SampleRate: 16000,
		Channels:   1,
	}
	if err := WriteArtifact(path, a); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer file.Close()
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	if dec.SampleRate != 16000 {
		t.Fatalf("expected 16000Hz wav, got %d", dec.SampleRate)
	}
}

func TestWriteArtifactPassesThroughNonPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ogg")
	payload := []byte{0x4f, 0x67, 0x67, 0x53} // OggS magic
	if err := WriteArtifact(path, Artifact{Data: payload, Format: "ogg_vorbis"}); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("expected verbatim payload for non-pcm artifact")
	}
}

func TestFileExtension(t *testing.T) {
	cases := map[string]string{
		"ogg_vorbis": ".ogg",
		"mp3":        ".mp3",
		"pcm":        ".wav",
		"wav":        ".wav",
	}
	for format, want := range cases {
		if got := FileExtension(format); got != want {
			t.Fatalf("FileExtension(%q) = %q, want %q", format, got, want)
		}
	}
}
