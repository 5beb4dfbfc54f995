package language

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

type fakeClassifier struct {
	out   contractx.Classification
	err   error
	block bool
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, language string) (contractx.Classification, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return contractx.Classification{}, ctx.Err()
	}
	return f.out, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, audio contractx.MediaRef, language string) (string, error) {
	return f.text, f.err
}

type fakeSynthesizer struct {
	media contractx.Media
	err   error
}

func (f fakeSynthesizer) Synthesize(ctx context.Context, text string, language string) (contractx.Media, error) {
	return f.media, f.err
}

func TestNewGatewayRequiresFallback(t *testing.T) {
	t.Parallel()

	_, err := NewGateway(nil)
	require.Error(t, err)
}

func TestClassifyIntentPrefersPrimary(t *testing.T) {
	t.Parallel()

	primary := &fakeClassifier{out: contractx.Classification{
		Intent:   contractx.IntentWeather,
		Entities: map[string]string{contractx.EntityLocation: " Jhansi "},
	}}
	fallback := &fakeClassifier{out: contractx.Classification{Intent: contractx.IntentUnknown}}

	g, err := NewGateway(fallback, WithClassifier(primary))
	require.NoError(t, err)

	got := g.ClassifyIntent(context.Background(), "मौसम", "hi-IN")
	assert.Equal(t, contractx.IntentWeather, got.Intent)
	assert.Equal(t, "Jhansi", got.Entity(contractx.EntityLocation))
	assert.Equal(t, 0, fallback.calls)
}

func TestClassifyIntentFallsBack(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeClassifier{
		"error":          {err: errors.New("model down")},
		"invalid intent": {out: contractx.Classification{Intent: "ORDER_PIZZA"}},
		"timeout":        {block: true},
	}
	for name, primary := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fallback := &fakeClassifier{out: contractx.Classification{Intent: contractx.IntentFinanceLoan}}
			g, err := NewGateway(fallback,
				WithClassifier(primary),
				WithConfig(Config{NLUTimeout: 20 * time.Millisecond}),
			)
			require.NoError(t, err)

			got := g.ClassifyIntent(context.Background(), "लोन", "hi-IN")
			assert.Equal(t, contractx.IntentFinanceLoan, got.Intent)
			assert.Equal(t, 1, fallback.calls)
		})
	}
}

func TestClassifyIntentNeverFails(t *testing.T) {
	t.Parallel()

	g, err := NewGateway(&fakeClassifier{err: errors.New("broken")})
	require.NoError(t, err)

	assert.Equal(t, contractx.IntentUnknown, g.ClassifyIntent(context.Background(), "anything", "hi-IN").Intent)
	assert.Equal(t, contractx.IntentUnknown, g.ClassifyIntent(context.Background(), "   ", "hi-IN").Intent)
}

func TestSpeechToTextSoftFails(t *testing.T) {
	t.Parallel()

	fallback := &fakeClassifier{}
	ref := contractx.MediaRef{URL: "https://example.com/rec.wav"}

	g, _ := NewGateway(fallback)
	assert.Empty(t, g.SpeechToText(context.Background(), ref, "hi-IN"), "no transcriber")

	g, _ = NewGateway(fallback, WithTranscriber(fakeTranscriber{err: errors.New("stt down")}))
	assert.Empty(t, g.SpeechToText(context.Background(), ref, "hi-IN"))

	g, _ = NewGateway(fallback, WithTranscriber(fakeTranscriber{text: "  नमस्ते  "}))
	assert.Equal(t, "नमस्ते", g.SpeechToText(context.Background(), ref, "hi-IN"))
	assert.Empty(t, g.SpeechToText(context.Background(), contractx.MediaRef{}, "hi-IN"), "no audio url")
}

func TestTextToSpeech(t *testing.T) {
	t.Parallel()

	fallback := &fakeClassifier{}

	g, _ := NewGateway(fallback)
	assert.False(t, g.CanSynthesize())
	_, ok := g.TextToSpeech(context.Background(), "नमस्ते", "hi-IN")
	assert.False(t, ok)

	g, _ = NewGateway(fallback, WithSynthesizer(fakeSynthesizer{err: errors.New("tts down")}))
	_, ok = g.TextToSpeech(context.Background(), "नमस्ते", "hi-IN")
	assert.False(t, ok)

	g, _ = NewGateway(fallback, WithSynthesizer(fakeSynthesizer{media: contractx.Media{Data: []byte("ID3"), MIMEType: "audio/mpeg"}}))
	m, ok := g.TextToSpeech(context.Background(), "नमस्ते", "hi-IN")
	assert.True(t, ok)
	assert.Equal(t, "audio/mpeg", m.MIMEType)
}

func TestSimulatedTranscriber(t *testing.T) {
	t.Parallel()

	s := SimulatedTranscriber{}
	got, err := s.Transcribe(context.Background(), contractx.MediaRef{URL: "https://rec/LOAN-123.wav"}, "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "मुझे लोन चाहिए", got)

	got, _ = s.Transcribe(context.Background(), contractx.MediaRef{URL: "https://rec/abc.wav"}, "hi-IN")
	assert.Equal(t, simulatedDefault, got)
}
