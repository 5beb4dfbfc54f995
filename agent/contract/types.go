package contract

import "strings"

// Channel identifies the inbound surface a request arrived on.
type Channel string

const (
	ChannelIVR      Channel = "ivr"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	return c == ChannelIVR || c == ChannelWhatsApp
}

// Directive tells the entry point whether to keep the interaction open.
type Directive string

const (
	DirectiveEndInteraction Directive = "END_INTERACTION"
	DirectiveKeepListening  Directive = "KEEP_LISTENING"
)

// Request is the canonical, transport-free shape of one inbound webhook call.
type Request struct {
	RequestID string  `json:"request_id,omitempty"`
	Channel   Channel `json:"channel"`
	CallerID  string  `json:"caller_id"`
	Text      string  `json:"text,omitempty"`
	AudioURL  string  `json:"audio_url,omitempty"`
	MediaURL  string  `json:"media_url,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
}

// HasImage reports whether the request carries an image attachment.
func (r Request) HasImage() bool {
	if strings.TrimSpace(r.MediaURL) == "" {
		return false
	}
	mediaType := strings.ToLower(strings.TrimSpace(r.MediaType))
	return mediaType == "" || strings.HasPrefix(mediaType, "image/")
}

// Reply is what the dispatcher hands back to an entry point.
type Reply struct {
	Text      string            `json:"text"`
	Language  string            `json:"language"`
	Directive Directive         `json:"directive"`
	Intent    Intent            `json:"intent"`
	Entities  map[string]string `json:"entities,omitempty"`
	Reprompt  bool              `json:"reprompt,omitempty"`
	Notified  bool              `json:"notified,omitempty"`
	Result    any               `json:"result,omitempty"`
}

// MediaRef points at audio or image content hosted by the channel provider.
type MediaRef struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type,omitempty"`
}

// Media is downloaded or synthesized binary content.
type Media struct {
	Data     []byte
	MIMEType string
}

// ImageLabel is a single prediction from an image classifier.
type ImageLabel struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DeliveryChannel is the outbound medium for a direct message.
type DeliveryChannel string

const (
	DeliverySMS      DeliveryChannel = "sms"
	DeliveryWhatsApp DeliveryChannel = "whatsapp"
)

// OutboundMessage is one best-effort direct message to a farmer.
type OutboundMessage struct {
	Channel DeliveryChannel `json:"channel"`
	To      string          `json:"to"`
	Body    string          `json:"body"`
	DedupID string          `json:"dedup_id,omitempty"`
}
