package dispatchnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

// Classify extracts intent and entities. A photo is always a disease question
// unless the caption clearly asks for something else. Without a photo an
// image diagnosis is downgraded to a symptom diagnosis.
func Classify(ctx context.Context, in *GraphState, gateway contractx.LanguageGateway) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	switch {
	case in.Text == "" && in.Request.HasImage():
		in.Classification = contractx.Classification{Intent: contractx.IntentDiseaseImage, Entities: map[string]string{}}
	default:
		in.Classification = gateway.ClassifyIntent(ctx, in.Text, in.Language).Normalize()
		switch {
		case in.Request.HasImage():
			switch in.Classification.Intent {
			case contractx.IntentUnknown, contractx.IntentDiseaseSymptoms, contractx.IntentGeneralQnA:
				in.Classification.Intent = contractx.IntentDiseaseImage
			}
		case in.Classification.Intent == contractx.IntentDiseaseImage:
			in.Classification.Intent = contractx.IntentDiseaseSymptoms
		}
	}

	log.Ctx(ctx).Info().
		Str("intent", string(in.Classification.Intent)).
		Interface("entities", in.Classification.Entities).
		Msg("request classified")
	return in, nil
}
