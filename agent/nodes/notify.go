package dispatchnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	"github.com/tanpawarit/krishi-saathi/agent/locale"
)

// Notify sends the pending outbound message. The reply only says "sent by
// SMS" when the gateway reported success.
func Notify(
	ctx context.Context,
	in *GraphState,
	delivery contractx.DeliveryGateway,
	catalog *locale.Catalog,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Outbound == nil {
		return in, nil
	}

	in.Notified = delivery.Send(ctx, *in.Outbound)
	if in.Notified {
		in.Message += catalog.Text(in.Language, locale.MarketSMSConfirmation)
	}
	log.Ctx(ctx).Info().Bool("delivered", in.Notified).Str("channel", string(in.Outbound.Channel)).Msg("notification attempted")
	return in, nil
}
