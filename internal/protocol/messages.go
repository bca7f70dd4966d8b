package protocol

import "time"

// Status tracks a speech goal through its lifecycle. Terminal statuses are
// final; the coordinator never emits a transition out of them.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSynthesizing Status = "synthesizing"
	StatusPlaying      Status = "playing"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status ends a goal.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SpeechGoal is a client request to synthesize and play an utterance.
type SpeechGoal struct {
	GoalID    string    `json:"goal_id"`
	Text      string    `json:"text"`
	Voice     string    `json:"voice,omitempty"`
	Rate      float64   `json:"rate,omitempty"`
	Pitch     float64   `json:"pitch,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechCancel requests cancellation of an in-flight goal.
type SpeechCancel struct {
	GoalID    string    `json:"goal_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechFeedback reports a status transition for an in-flight goal.
type SpeechFeedback struct {
	GoalID    string    `json:"goal_id"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechResult is the terminal outcome of a goal, emitted exactly once.
type SpeechResult struct {
	GoalID     string    `json:"goal_id"`
	Status     Status    `json:"status"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SynthesizeRequest is the direct request/reply synthesis surface. Metadata is
// a free-form JSON object; recognized keys are voice_id, output_format,
// sample_rate, text_type and output_path.
type SynthesizeRequest struct {
	Text     string `json:"text"`
	Metadata string `json:"metadata,omitempty"`
}

// SynthesizeResponse describes the produced audio artifact.
type SynthesizeResponse struct {
	AudioPath string `json:"audio_path,omitempty"`
	AudioType string `json:"audio_type,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PollyRequest exposes the raw engine parameters without defaults or caching.
type PollyRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id"`
	OutputFormat string `json:"output_format"`
	SampleRate   string `json:"sample_rate"`
	TextType     string `json:"text_type"`
}

// PollyResponse carries the raw synthesized audio back to the caller.
type PollyResponse struct {
	Audio      []byte `json:"audio,omitempty"`
	AudioType  string `json:"audio_type,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	SubjectSpeechGoal     = "speech.goal"
	SubjectSpeechCancel   = "speech.cancel"
	SubjectSpeechFeedback = "speech.feedback"
	SubjectSpeechResult   = "speech.result"
	SubjectSynthesize     = "tts.synthesize"
	SubjectPolly          = "tts.polly"
)
