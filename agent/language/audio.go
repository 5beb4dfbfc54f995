package language

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

const maxSpeechBytes = 5 << 20

// WhisperTranscriber downloads the recording and sends it to an OpenAI
// compatible transcription endpoint.
type WhisperTranscriber struct {
	client  *openai.Client
	fetcher contractx.MediaFetcher
	model   string
}

var _ contractx.Transcriber = (*WhisperTranscriber)(nil)

func NewWhisperTranscriber(client *openai.Client, fetcher contractx.MediaFetcher, model string) (*WhisperTranscriber, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrCapabilityUnavailable)
	}
	if fetcher == nil {
		return nil, errors.New("media fetcher is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "whisper-1"
	}
	return &WhisperTranscriber{client: client, fetcher: fetcher, model: model}, nil
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio contractx.MediaRef, language string) (string, error) {
	media, err := w.fetcher.Fetch(ctx, audio.URL)
	if err != nil {
		return "", err
	}
	if len(media.Data) == 0 {
		return "", errors.New("audio is empty")
	}

	mime := media.MIMEType
	if mime == "" {
		mime = audio.MIMEType
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(media.Data), audioFilename(mime), mime),
		Model: openai.AudioModel(w.model),
	}
	if base := baseLanguage(language); base != "" {
		params.Language = openai.String(base)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: transcription: %v", contractx.ErrModelInvoke, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// SpeechSynthesizer renders reply text to MP3 with an OpenAI compatible
// speech endpoint.
type SpeechSynthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

var _ contractx.Synthesizer = (*SpeechSynthesizer)(nil)

func NewSpeechSynthesizer(client *openai.Client, model, voice string) (*SpeechSynthesizer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrCapabilityUnavailable)
	}
	if strings.TrimSpace(model) == "" {
		model = "tts-1"
	}
	if strings.TrimSpace(voice) == "" {
		voice = "alloy"
	}
	return &SpeechSynthesizer{client: client, model: model, voice: voice}, nil
}

func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text string, language string) (contractx.Media, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return contractx.Media{}, fmt.Errorf("%w: speech: %v", contractx.ErrModelInvoke, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return contractx.Media{}, fmt.Errorf("read speech: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	return contractx.Media{Data: data, MIMEType: mime}, nil
}

func audioFilename(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return "audio.wav"
	case strings.Contains(mime, "ogg"):
		return "audio.ogg"
	case strings.Contains(mime, "webm"):
		return "audio.webm"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return "audio.m4a"
	default:
		return "audio.mp3"
	}
}

// baseLanguage turns "hi-IN" into the ISO-639-1 "hi" the API expects.
func baseLanguage(tag string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	return strings.ToLower(base)
}
