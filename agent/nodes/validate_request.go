package dispatchnode

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	statex "github.com/tanpawarit/krishi-saathi/agent/state"
)

type GraphInput struct {
	Request contractx.Request
}

type GraphOutput struct {
	Reply contractx.Reply
}

type GraphState struct {
	Request contractx.Request
	Now     time.Time

	Session  *statex.Session
	Language string

	// Text is the typed text or the transcript of the recording.
	Text     string
	Reprompt bool

	Classification contractx.Classification
	Crop           string
	Location       string

	Message string
	Result  any

	// Outbound is set by handlers that want the farmer to get a direct
	// message; the notify node sends it.
	Outbound *contractx.OutboundMessage
	Notified bool
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	req := in.Request
	req.CallerID = strings.TrimSpace(req.CallerID)
	if req.CallerID == "" {
		return nil, contractx.ErrMissingCaller
	}
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", contractx.ErrValidation, req.Channel)
	}
	req.Text = strings.TrimSpace(req.Text)
	req.AudioURL = strings.TrimSpace(req.AudioURL)
	req.MediaURL = strings.TrimSpace(req.MediaURL)
	req.MediaType = strings.TrimSpace(req.MediaType)
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	return &GraphState{
		Request: req,
		Now:     nowFn().UTC(),
	}, nil
}
