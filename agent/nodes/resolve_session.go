package dispatchnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

func ResolveSession(
	ctx context.Context,
	in *GraphState,
	sessions *statex.Manager,
	catalog *locale.Catalog,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	sess, err := sessions.GetOrCreate(ctx, in.Request.CallerID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	in.Session = sess
	in.Language = catalog.Resolve(sess.Language)

	log.Ctx(ctx).Debug().
		Str("language", in.Language).
		Str("location", sess.Location).
		Str("crop", sess.CurrentCrop).
		Msg("session resolved")
	return in, nil
}
