package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/playback"
	"github.com/voicekit-labs/voxd/internal/protocol"
	"github.com/voicekit-labs/voxd/internal/synth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives the feedback and result events a goal produces. The bus
// service publishes them; tests record them.
type Sink interface {
	Feedback(protocol.SpeechFeedback)
	Result(protocol.SpeechResult)
}

// Coordinator drives speech goals through their lifecycle: pending,
// synthesizing, playing, then one terminal status. All state transitions
// happen on a single dispatch goroutine fed by an event channel, so the state
// machine itself needs no locking. At most one goal is synthesized or played
// at a time; overlapping goals queue FIFO or preempt per config.
type Coordinator struct {
	cfg      config.SpeechConfig
	synthCfg config.SynthConfig
	engine   synth.Engine
	player   playback.Player
	sink     Sink
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	wg     sync.WaitGroup

	goalCounter metric.Int64Counter
	activeGauge metric.Int64UpDownCounter
}

type event interface{ isEvent() }

type submitEvent struct {
	goal protocol.SpeechGoal
}

type cancelEvent struct {
	goalID string
}

type synthDoneEvent struct {
	goalID   string
	artifact synth.Artifact
	err      error
}

type playDoneEvent struct {
	goalID   string
	duration time.Duration
	err      error
}

func (submitEvent) isEvent()    {}
func (cancelEvent) isEvent()    {}
func (synthDoneEvent) isEvent() {}
func (playDoneEvent) isEvent()  {}

// activeGoal is the single in-flight goal, owned by the dispatch loop.
type activeGoal struct {
	goal            protocol.SpeechGoal
	status          protocol.Status
	workCtx         context.Context
	cancelWork      context.CancelFunc
	cancelRequested bool
	cancelReason    string
}

func NewCoordinator(parent context.Context, cfg config.SpeechConfig, synthCfg config.SynthConfig,
	engine synth.Engine, player playback.Player, sink Sink, log *slog.Logger) *Coordinator {

	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		cfg:      cfg,
		synthCfg: synthCfg,
		engine:   engine,
		player:   player,
		sink:     sink,
		log:      log.With(slog.String("component", "speech-coordinator")),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 32),
	}
	c.initMetrics()
	return c
}

func (c *Coordinator) initMetrics() {
	meter := otel.Meter("github.com/voicekit-labs/voxd/speech")
	var err error
	c.goalCounter, err = meter.Int64Counter("voxd.speech.goals",
		metric.WithDescription("Completed speech goals by terminal status"))
	if err != nil {
		c.log.Warn("failed to create goal counter", slogError(err))
	}
	c.activeGauge, err = meter.Int64UpDownCounter("voxd.speech.active_goals",
		metric.WithDescription("Goals currently synthesizing or playing"))
	if err != nil {
		c.log.Warn("failed to create active gauge", slogError(err))
	}
}

// Start launches the dispatch loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close stops the loop and waits for in-flight workers.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Submit hands a goal to the coordinator. It returns once the goal is
// accepted for dispatch; progress is reported through the sink.
func (c *Coordinator) Submit(goal protocol.SpeechGoal) error {
	return c.send(submitEvent{goal: goal})
}

// Cancel requests cancellation of a goal. Cancelling an unknown or
// already-terminal goal is a no-op.
func (c *Coordinator) Cancel(goalID string) error {
	return c.send(cancelEvent{goalID: goalID})
}

func (c *Coordinator) send(ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.ctx.Done():
		return errors.New("coordinator is shut down")
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	var (
		active  *activeGoal
		queue   []protocol.SpeechGoal
		preempt *protocol.SpeechGoal
	)

	finish := func(goal protocol.SpeechGoal, status protocol.Status, errMsg string, duration time.Duration) {
		c.emitFeedback(goal.GoalID, status, errMsg)
		c.emitResult(goal.GoalID, status, errMsg, duration)
	}

	startNext := func() {
		for active == nil {
			var next protocol.SpeechGoal
			switch {
			case preempt != nil:
				next = *preempt
				preempt = nil
			case len(queue) > 0:
				next = queue[0]
				queue = queue[1:]
			default:
				return
			}
			active = c.begin(next)
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			if active != nil {
				active.cancelWork()
				c.player.Stop()
			}
			return

		case ev := <-c.events:
			switch ev := ev.(type) {
			case submitEvent:
				goal := ev.goal
				c.emitFeedback(goal.GoalID, protocol.StatusPending, "")
				if strings.TrimSpace(goal.Text) == "" {
					finish(goal, protocol.StatusFailed, "empty text", 0)
					continue
				}
				if active == nil {
					active = c.begin(goal)
					continue
				}
				switch c.cfg.Policy {
				case "preempt":
					if preempt != nil {
						finish(*preempt, protocol.StatusCancelled, "preempted", 0)
					}
					preempt = &goal
					c.requestCancel(active, "preempted")
				default:
					if len(queue) >= c.cfg.MaxQueue {
						finish(goal, protocol.StatusFailed, "queue full", 0)
						continue
					}
					queue = append(queue, goal)
				}

			case cancelEvent:
				if active != nil && active.goal.GoalID == ev.goalID {
					c.requestCancel(active, "cancelled by client")
					continue
				}
				if preempt != nil && preempt.GoalID == ev.goalID {
					finish(*preempt, protocol.StatusCancelled, "cancelled by client", 0)
					preempt = nil
					continue
				}
				for i, queued := range queue {
					if queued.GoalID == ev.goalID {
						finish(queued, protocol.StatusCancelled, "cancelled by client", 0)
						queue = append(queue[:i], queue[i+1:]...)
						break
					}
				}
				// Unknown or terminal goal: nothing to do.

			case synthDoneEvent:
				if active == nil || active.goal.GoalID != ev.goalID {
					continue // stale completion from a preempted goal
				}
				switch {
				case active.cancelRequested || errors.Is(ev.err, context.Canceled):
					c.finishActive(&active, protocol.StatusCancelled, cancelDetail(active), 0)
				case ev.err != nil:
					c.finishActive(&active, protocol.StatusFailed, ev.err.Error(), 0)
				default:
					active.status = protocol.StatusPlaying
					c.emitFeedback(active.goal.GoalID, protocol.StatusPlaying, "")
					c.startPlayback(active.workCtx, active.goal.GoalID, ev.artifact)
				}
				startNext()

			case playDoneEvent:
				if active == nil || active.goal.GoalID != ev.goalID {
					continue
				}
				switch {
				case active.cancelRequested || errors.Is(ev.err, playback.ErrStopped):
					c.finishActive(&active, protocol.StatusCancelled, cancelDetail(active), ev.duration)
				case ev.err != nil:
					c.finishActive(&active, protocol.StatusFailed, ev.err.Error(), 0)
				default:
					c.finishActive(&active, protocol.StatusSucceeded, "", ev.duration)
				}
				startNext()
			}
		}
	}
}

// begin transitions a goal into SYNTHESIZING and launches the synthesis
// worker. The worker reports back through the event channel.
func (c *Coordinator) begin(goal protocol.SpeechGoal) *activeGoal {
	workCtx, cancelWork := context.WithCancel(c.ctx)
	a := &activeGoal{goal: goal, status: protocol.StatusSynthesizing, workCtx: workCtx, cancelWork: cancelWork}
	if c.activeGauge != nil {
		c.activeGauge.Add(c.ctx, 1)
	}
	c.emitFeedback(goal.GoalID, protocol.StatusSynthesizing, "")

	voice := goal.Voice
	if voice == "" {
		voice = c.synthCfg.DefaultVoice
	}
	req := synth.Request{
		Text:         goal.Text,
		Voice:        voice,
		OutputFormat: "pcm",
		TextType:     c.synthCfg.TextType,
		SampleRate:   c.synthCfg.SampleRate,
		Channels:     c.synthCfg.Channels,
		Rate:         goal.Rate,
		Pitch:        goal.Pitch,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := workCtx
		if c.synthCfg.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(workCtx, time.Duration(c.synthCfg.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		artifact, err := c.engine.Synthesize(ctx, req)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("synthesis timed out after %dms", c.synthCfg.TimeoutMS)
		}
		c.post(synthDoneEvent{goalID: goal.GoalID, artifact: artifact, err: err})
	}()
	return a
}

func (c *Coordinator) startPlayback(ctx context.Context, goalID string, artifact synth.Artifact) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		duration, err := c.player.Play(ctx, artifact)
		c.post(playDoneEvent{goalID: goalID, duration: duration, err: err})
	}()
}

// post delivers a worker completion without blocking shutdown.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func cancelDetail(a *activeGoal) string {
	if a.cancelReason != "" {
		return a.cancelReason
	}
	return "cancelled by client"
}

func (c *Coordinator) requestCancel(a *activeGoal, reason string) {
	if a.cancelRequested {
		return
	}
	a.cancelRequested = true
	a.cancelReason = reason
	a.cancelWork()
	if a.status == protocol.StatusPlaying {
		c.player.Stop()
	}
	c.log.Info("goal cancellation requested",
		slog.String("goal_id", a.goal.GoalID), slog.String("reason", reason))
}

func (c *Coordinator) finishActive(active **activeGoal, status protocol.Status, errMsg string, duration time.Duration) {
	a := *active
	a.cancelWork()
	c.emitFeedback(a.goal.GoalID, status, errMsg)
	c.emitResult(a.goal.GoalID, status, errMsg, duration)
	if c.activeGauge != nil {
		c.activeGauge.Add(c.ctx, -1)
	}
	*active = nil
}

func (c *Coordinator) emitFeedback(goalID string, status protocol.Status, detail string) {
	c.sink.Feedback(protocol.SpeechFeedback{
		GoalID:    goalID,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Coordinator) emitResult(goalID string, status protocol.Status, errMsg string, duration time.Duration) {
	c.sink.Result(protocol.SpeechResult{
		GoalID:     goalID,
		Status:     status,
		Success:    status == protocol.StatusSucceeded,
		Error:      errMsg,
		DurationMS: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	if c.goalCounter != nil {
		c.goalCounter.Add(c.ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
	c.log.Info("speech goal finished",
		slog.String("goal_id", goalID), slog.String("status", string(status)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
