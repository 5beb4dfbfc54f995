package language

import (
	"strings"
	"time"
)

// Config tunes the language capabilities. Loaded with prefix "LANGUAGE".
type Config struct {
	STTTimeout time.Duration `envconfig:"STT_TIMEOUT" split_words:"true" default:"15s"`
	NLUTimeout time.Duration `envconfig:"NLU_TIMEOUT" split_words:"true" default:"8s"`
	TTSTimeout time.Duration `envconfig:"TTS_TIMEOUT" split_words:"true" default:"10s"`

	// OpenAI compatible audio endpoint for transcription and speech.
	AudioBaseURL       string `envconfig:"AUDIO_BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	AudioAPIKey        string `envconfig:"AUDIO_API_KEY" split_words:"true"`
	TranscriptionModel string `envconfig:"TRANSCRIPTION_MODEL" split_words:"true" default:"whisper-1"`
	SpeechModel        string `envconfig:"SPEECH_MODEL" split_words:"true" default:"tts-1"`
	SpeechVoice        string `envconfig:"SPEECH_VOICE" split_words:"true" default:"alloy"`
}

// AudioEnabled reports whether real speech adapters can be built.
func (c Config) AudioEnabled() bool {
	return strings.TrimSpace(c.AudioAPIKey) != ""
}

func (c Config) normalized() Config {
	out := c
	if out.STTTimeout <= 0 {
		out.STTTimeout = 15 * time.Second
	}
	if out.NLUTimeout <= 0 {
		out.NLUTimeout = 8 * time.Second
	}
	if out.TTSTimeout <= 0 {
		out.TTSTimeout = 10 * time.Second
	}
	return out
}
