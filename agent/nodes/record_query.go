package dispatchnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

// RecordQuery stores the utterance as last_query. The write is best effort and
// is not undone if a handler fails later.
func RecordQuery(ctx context.Context, in *GraphState, sessions *statex.Manager) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Text == "" {
		return in, nil
	}

	if err := sessions.Update(ctx, in.Request.CallerID, statex.Patch{LastQuery: statex.Ptr(in.Text)}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to record last query")
		return in, nil
	}
	if in.Session != nil {
		in.Session.LastQuery = in.Text
	}
	return in, nil
}
