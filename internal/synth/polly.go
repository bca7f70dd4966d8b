package synth

import (
	"context"
	"fmt"
	"io"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

type pollyEngine struct {
	client *polly.Client
}

// NewPollyEngine builds an engine backed by Amazon Polly. Credentials come
// from the default AWS chain; region can be overridden via config.
func NewPollyEngine(ctx context.Context, region string) (Engine, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &pollyEngine{client: polly.NewFromConfig(awsCfg)}, nil
}

func (p *pollyEngine) Synthesize(ctx context.Context, req Request) (Artifact, error) {
	format := req.OutputFormat
	if format == "" || format == "wav" {
		// Polly has no wav output; request pcm and wrap downstream.
		format = "pcm"
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate(format)
	}

	textType := types.TextTypeText
	if req.TextType == "ssml" {
		textType = types.TextTypeSsml
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         &req.Text,
		VoiceId:      types.VoiceId(req.Voice),
		OutputFormat: types.OutputFormat(format),
		TextType:     textType,
	}
	rate := strconv.Itoa(sampleRate)
	input.SampleRate = &rate

	out, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return Artifact{}, fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return Artifact{}, fmt.Errorf("read polly audio stream: %w", err)
	}

	return Artifact{
		Data:       data,
		Format:     format,
		SampleRate: sampleRate,
		Channels:   1, // Polly output is mono
	}, nil
}

func defaultSampleRate(format string) int {
	if format == "pcm" {
		return 16000
	}
	return 22050
}
