package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
)

const maxBodyBytes = 1 << 20

// fields is a webhook body flattened to strings, whichever encoding it came
// in. JSON simulators and Twilio form posts end up in the same shape.
type fields map[string]string

// get returns the first non-empty value among keys.
func (f fields) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f[k]); v != "" {
			return v
		}
	}
	return ""
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func readFields(w http.ResponseWriter, r *http.Request) (fields, error) {
	if isJSON(r) {
		return readJSONFields(r)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: parse form: %v", contractx.ErrValidation, err)
	}
	out := fields{}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func readJSONFields(r *http.Request) (fields, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", contractx.ErrValidation, err)
	}
	out := fields{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out, nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decode json body: %v", contractx.ErrValidation, err)
	}
	for k, v := range body {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out, nil
}

// ivrRequest maps both the simulator JSON keys and Twilio's voice fields.
func ivrRequest(f fields) contractx.Request {
	return contractx.Request{
		Channel:  contractx.ChannelIVR,
		CallerID: f.get("caller_id", "From"),
		Text:     f.get("spoken_text", "SpeechResult"),
		AudioURL: f.get("audio_url", "RecordingUrl"),
	}
}

// whatsAppRequest maps both the simulator JSON keys and Twilio's messaging
// fields. Twilio only sends MediaUrl0 when NumMedia is positive.
func whatsAppRequest(f fields) contractx.Request {
	return contractx.Request{
		Channel:   contractx.ChannelWhatsApp,
		CallerID:  f.get("sender_id", "From"),
		Text:      f.get("message_body", "Body"),
		MediaURL:  f.get("media_url", "MediaUrl0"),
		MediaType: f.get("media_type", "MediaContentType0"),
	}
}
