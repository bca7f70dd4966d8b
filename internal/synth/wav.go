package synth

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteArtifact persists an artifact to path. PCM artifacts are encapsulated
// as 16-bit WAV; everything else is written verbatim.
func WriteArtifact(path string, a Artifact) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	defer file.Close()

	if a.Format != "pcm" {
		if _, err := file.Write(a.Data); err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		return nil
	}
	return writePCMToWav(file, a.Data, a.SampleRate, a.Channels)
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// FileExtension maps an artifact format to its on-disk extension.
func FileExtension(format string) string {
	switch format {
	case "ogg_vorbis":
		return ".ogg"
	case "mp3":
		return ".mp3"
	default:
		return ".wav"
	}
}
