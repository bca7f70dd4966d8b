package speech

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/voicekit-labs/voxd/internal/bus"
	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/protocol"
)

// Service is the bus surface of the coordinator: it subscribes to goal and
// cancel subjects and republishes feedback and results.
type Service struct {
	cfg         config.SpeechConfig
	bus         *bus.Client
	coordinator *Coordinator
	logger      *slog.Logger
	subGoal     *nats.Subscription
	subCancel   *nats.Subscription
}

func NewService(cfg config.SpeechConfig, busClient *bus.Client, coordinator *Coordinator, log *slog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		bus:         busClient,
		coordinator: coordinator,
		logger:      log.With(slog.String("component", "speech-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subGoal, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechGoal, s.handleGoal)
	if err != nil {
		return err
	}
	s.subGoal = subGoal

	subCancel, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechCancel, s.handleCancel)
	if err != nil {
		subGoal.Drain()
		return err
	}
	s.subCancel = subCancel
	return nil
}

func (s *Service) Close() {
	if s.subGoal != nil {
		_ = s.subGoal.Drain()
	}
	if s.subCancel != nil {
		_ = s.subCancel.Drain()
	}
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subGoal != nil && s.subCancel != nil)
}

func (s *Service) handleGoal(msg *nats.Msg) {
	var goal protocol.SpeechGoal
	if err := json.Unmarshal(msg.Data, &goal); err != nil {
		s.logger.Warn("failed to decode speech goal", slogError(err))
		return
	}
	if goal.GoalID == "" {
		goal.GoalID = uuid.NewString()
	}
	if goal.Timestamp.IsZero() {
		goal.Timestamp = time.Now().UTC()
	}
	if err := s.coordinator.Submit(goal); err != nil {
		s.logger.Warn("failed to submit speech goal", slogError(err))
		return
	}

	// Acknowledge with the assigned goal id when the client asked for one.
	if msg.Reply != "" {
		if data, err := json.Marshal(goal); err == nil {
			_ = msg.Respond(data)
		}
	}
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var cancel protocol.SpeechCancel
	if err := json.Unmarshal(msg.Data, &cancel); err != nil {
		s.logger.Warn("failed to decode speech cancel", slogError(err))
		return
	}
	if cancel.GoalID == "" {
		return
	}
	if err := s.coordinator.Cancel(cancel.GoalID); err != nil {
		s.logger.Warn("failed to submit cancellation", slogError(err))
	}
}

// BusSink publishes coordinator events on the bus.
type BusSink struct {
	bus    *bus.Client
	logger *slog.Logger
}

func NewBusSink(busClient *bus.Client, log *slog.Logger) *BusSink {
	return &BusSink{bus: busClient, logger: log.With(slog.String("component", "speech-sink"))}
}

func (b *BusSink) Feedback(fb protocol.SpeechFeedback) {
	b.publish(protocol.SubjectSpeechFeedback, fb)
}

func (b *BusSink) Result(res protocol.SpeechResult) {
	b.publish(protocol.SubjectSpeechResult, res)
}

func (b *BusSink) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to marshal speech event", slogError(err))
		return
	}
	if err := b.bus.Conn().Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish speech event", slogError(err))
	}
}
