package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/voicekit-labs/voxd/internal/bus"
	"github.com/voicekit-labs/voxd/internal/cache"
	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/protocol"
	"github.com/voicekit-labs/voxd/internal/synth"
)

// Service answers direct synthesis requests over the bus: a friendly surface
// taking text plus JSON metadata with sensible defaults, and a raw surface
// passing engine parameters through untouched. Friendly requests without a
// caller-managed output path go through the utterance cache.
type Service struct {
	cfg    config.SynthConfig
	bus    *bus.Client
	engine synth.Engine
	store  *cache.Store
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	subSynth *nats.Subscription
	subPolly *nats.Subscription
}

func NewService(parent context.Context, cfg config.SynthConfig, busClient *bus.Client,
	engine synth.Engine, store *cache.Store, log *slog.Logger) *Service {

	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		engine: engine,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "synthesizer-service")),
	}
}

func (s *Service) Start() error {
	subSynth, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesize, s.handleSynthesize)
	if err != nil {
		return err
	}
	s.subSynth = subSynth

	subPolly, err := s.bus.Conn().Subscribe(protocol.SubjectPolly, s.handlePolly)
	if err != nil {
		subSynth.Drain()
		return err
	}
	s.subPolly = subPolly
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subSynth != nil {
		_ = s.subSynth.Drain()
	}
	if s.subPolly != nil {
		_ = s.subPolly.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.subSynth != nil && s.subPolly != nil }

// requestMetadata is the recognized subset of the free-form metadata object.
type requestMetadata struct {
	VoiceID      string `json:"voice_id"`
	OutputFormat string `json:"output_format"`
	SampleRate   string `json:"sample_rate"`
	TextType     string `json:"text_type"`
	OutputPath   string `json:"output_path"`
}

// parseRequest applies defaults to a synthesis request. The sample rate
// defaults to 16000 for pcm output and 22050 for everything else.
func parseRequest(cfg config.SynthConfig, req protocol.SynthesizeRequest) (synth.Request, string, error) {
	if req.Text == "" {
		return synth.Request{}, "", fmt.Errorf("empty text")
	}

	var md requestMetadata
	if req.Metadata != "" {
		if err := json.Unmarshal([]byte(req.Metadata), &md); err != nil {
			return synth.Request{}, "", fmt.Errorf("parse metadata: %w", err)
		}
	}

	if md.VoiceID == "" {
		md.VoiceID = cfg.DefaultVoice
	}
	if md.OutputFormat == "" {
		md.OutputFormat = cfg.OutputFormat
	}
	if md.TextType == "" {
		md.TextType = cfg.TextType
	}
	if md.SampleRate == "" {
		if md.OutputFormat == "pcm" {
			md.SampleRate = "16000"
		} else {
			md.SampleRate = "22050"
		}
	}
	sampleRate, err := strconv.Atoi(md.SampleRate)
	if err != nil || sampleRate <= 0 {
		return synth.Request{}, "", fmt.Errorf("invalid sample_rate %q", md.SampleRate)
	}

	return synth.Request{
		Text:         req.Text,
		Voice:        md.VoiceID,
		OutputFormat: md.OutputFormat,
		TextType:     md.TextType,
		SampleRate:   sampleRate,
		Channels:     cfg.Channels,
	}, md.OutputPath, nil
}

// artifactType is the audio type reported to callers for a given format.
func artifactType(format string) string {
	switch format {
	case "ogg_vorbis":
		return "ogg"
	case "mp3":
		return "mp3"
	default:
		// pcm artifacts are persisted as wav
		return "wav"
	}
}

func (s *Service) handleSynthesize(msg *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesize request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.synthesize(req)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to marshal synthesize response", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond to synthesize request", slogError(err))
		}
	}()
}

// synthesize never panics; failures come back in the response.
func (s *Service) synthesize(req protocol.SynthesizeRequest) protocol.SynthesizeResponse {
	sreq, outputPath, err := parseRequest(s.cfg, req)
	if err != nil {
		return protocol.SynthesizeResponse{Error: err.Error()}
	}

	ctx := s.ctx
	if s.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	// Caller-managed output paths bypass the cache entirely.
	if outputPath != "" {
		artifact, err := s.engine.Synthesize(ctx, sreq)
		if err != nil {
			return protocol.SynthesizeResponse{Error: err.Error()}
		}
		if err := synth.WriteArtifact(outputPath, artifact); err != nil {
			return protocol.SynthesizeResponse{Error: err.Error()}
		}
		return protocol.SynthesizeResponse{AudioPath: outputPath, AudioType: artifactType(artifact.Format)}
	}

	hash := cache.Key(sreq)
	if entry, err := s.store.Lookup(ctx, hash); err != nil {
		s.logger.Warn("cache lookup failed", slogError(err))
	} else if entry != nil {
		s.logger.Info("utterance served from cache", slog.String("file", entry.Path))
		return protocol.SynthesizeResponse{AudioPath: entry.Path, AudioType: entry.AudioType, Cached: true}
	}

	artifact, err := s.engine.Synthesize(ctx, sreq)
	if err != nil {
		return protocol.SynthesizeResponse{Error: err.Error()}
	}

	path := s.store.FilePath(hash, artifact.Format)
	if err := synth.WriteArtifact(path, artifact); err != nil {
		return protocol.SynthesizeResponse{Error: err.Error()}
	}
	audioType := artifactType(artifact.Format)
	if err := s.store.Insert(ctx, cache.Entry{
		Hash:      hash,
		Path:      path,
		AudioType: audioType,
		Size:      int64(len(artifact.Data)),
	}); err != nil {
		s.logger.Warn("cache insert failed", slogError(err))
	}
	return protocol.SynthesizeResponse{AudioPath: path, AudioType: audioType}
}

func (s *Service) handlePolly(msg *nats.Msg) {
	var req protocol.PollyRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode polly request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.pollySynthesize(req)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to marshal polly response", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond to polly request", slogError(err))
		}
	}()
}

func (s *Service) pollySynthesize(req protocol.PollyRequest) protocol.PollyResponse {
	if req.Text == "" {
		return protocol.PollyResponse{Error: "empty text"}
	}
	sampleRate := 0
	if req.SampleRate != "" {
		parsed, err := strconv.Atoi(req.SampleRate)
		if err != nil || parsed <= 0 {
			return protocol.PollyResponse{Error: fmt.Sprintf("invalid sample_rate %q", req.SampleRate)}
		}
		sampleRate = parsed
	}

	ctx := s.ctx
	if s.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	artifact, err := s.engine.Synthesize(ctx, synth.Request{
		Text:         req.Text,
		Voice:        req.VoiceID,
		OutputFormat: req.OutputFormat,
		TextType:     req.TextType,
		SampleRate:   sampleRate,
		Channels:     s.cfg.Channels,
	})
	if err != nil {
		return protocol.PollyResponse{Error: err.Error()}
	}
	return protocol.PollyResponse{
		Audio:      artifact.Data,
		AudioType:  artifact.Format,
		SampleRate: artifact.SampleRate,
		Channels:   artifact.Channels,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
