package dispatchnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

// FinalizeReply builds the reply. Every handled request ends the interaction.
func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	text := strings.TrimSpace(in.Message)
	if text == "" {
		return GraphOutput{}, fmt.Errorf("%w: handler returned empty message", contractx.ErrValidation)
	}
	return GraphOutput{Reply: contractx.Reply{
		Text:      text,
		Language:  in.Language,
		Directive: contractx.DirectiveEndInteraction,
		Intent:    in.Classification.Intent,
		Entities:  in.Classification.Entities,
		Notified:  in.Notified,
		Result:    in.Result,
	}}, nil
}
