package contract

import "context"

// Transcriber converts caller audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio MediaRef, language string) (string, error)
}

// Synthesizer converts reply text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, language string) (Media, error)
}

// IntentClassifier extracts an intent and entities from an utterance.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, language string) (Classification, error)
}

// ImageClassifier labels a crop photo.
type ImageClassifier interface {
	ClassifyImage(ctx context.Context, image MediaRef) (ImageLabel, error)
}

// MediaFetcher downloads provider-hosted media.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (Media, error)
}

// MessageSender is a delivery provider. Errors are absorbed by the gateway.
type MessageSender interface {
	SendMessage(ctx context.Context, msg OutboundMessage) error
}

// LanguageGateway is the soft-failing capability boundary used by the dispatcher.
type LanguageGateway interface {
	SpeechToText(ctx context.Context, audio MediaRef, language string) string
	ClassifyIntent(ctx context.Context, text string, language string) Classification
}

// DeliveryGateway sends direct messages and reports success as a bool.
type DeliveryGateway interface {
	Send(ctx context.Context, msg OutboundMessage) bool
}
