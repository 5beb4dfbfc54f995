package language

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

type simulatedPhrase struct {
	keywords []string
	text     string
}

var simulatedPhrases = []simulatedPhrase{
	{keywords: []string{"pani", "water"}, text: "गेहूं में पानी कब देना है?"},
	{keywords: []string{"loan", "लोन"}, text: "मुझे लोन चाहिए"},
	{keywords: []string{"beej", "seed"}, text: "गेहूं का कौन सा बीज अच्छा है?"},
	{keywords: []string{"mandi", "भाव"}, text: "आज मंडी का भाव क्या है?"},
	{keywords: []string{"rog", "बीमारी", "spots"}, text: "पत्तियों पर सफेद धब्बे हैं"},
}

const simulatedDefault = "फसल में क्या समस्या है?"

// SimulatedTranscriber stands in for speech recognition when none is
// configured. It reads hints from the recording URL so demos and tests get a
// stable utterance.
type SimulatedTranscriber struct{}

var _ contractx.Transcriber = SimulatedTranscriber{}

func (SimulatedTranscriber) Transcribe(ctx context.Context, audio contractx.MediaRef, language string) (string, error) {
	ref := strings.ToLower(audio.URL)
	for _, p := range simulatedPhrases {
		for _, kw := range p.keywords {
			if strings.Contains(ref, kw) {
				return p.text, nil
			}
		}
	}
	return simulatedDefault, nil
}
