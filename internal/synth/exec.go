package synth

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Rate       float64 `json:"rate,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecEngine wraps an external synthesizer process. The request is written
// as JSON to stdin; the process answers with newline-delimited JSON chunks
// carrying base64 PCM, the last one marked final.
func NewExecEngine(command string, sampleRate, channels int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execEngine{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execEngine) Synthesize(ctx context.Context, req Request) (Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload := execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
		Rate:       req.Rate,
		Pitch:      req.Pitch,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Artifact{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Artifact{}, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Artifact{}, err
	}
	if err := cmd.Start(); err != nil {
		return Artifact{}, err
	}

	if _, err := stdin.Write(data); err != nil {
		cmd.Wait()
		return Artifact{}, err
	}
	stdin.Close()

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return Artifact{}, fmt.Errorf("decode synth chunk: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return Artifact{}, fmt.Errorf("decode synth pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		return Artifact{}, fmt.Errorf("synth command failed: %w", err)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return Artifact{}, scanErr
	}

	return Artifact{
		Data:       pcm,
		Format:     "pcm",
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	}, nil
}
