package dispatchnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
)

// Transcribe fills Text from the recording when nothing was typed. A request
// left with neither text nor an image is marked for a re-prompt.
func Transcribe(ctx context.Context, in *GraphState, gateway contractx.LanguageGateway) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.Text = in.Request.Text
	if in.Text == "" && in.Request.AudioURL != "" {
		in.Text = gateway.SpeechToText(ctx, contractx.MediaRef{URL: in.Request.AudioURL}, in.Language)
		log.Ctx(ctx).Debug().Str("transcript", in.Text).Msg("speech transcribed")
	}
	in.Reprompt = in.Text == "" && !in.Request.HasImage()
	return in, nil
}

// Reprompt asks the caller again without touching any handler.
func Reprompt(in *GraphState, catalog *locale.Catalog) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	key := locale.Reprompt
	if in.Request.Channel == contractx.ChannelWhatsApp {
		key = locale.WhatsAppInstructions
	}
	return GraphOutput{Reply: contractx.Reply{
		Text:      catalog.Text(in.Language, key),
		Language:  in.Language,
		Directive: contractx.DirectiveKeepListening,
		Intent:    contractx.IntentUnknown,
		Reprompt:  true,
	}}, nil
}
