package api

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	logx "github.com/tanpawarit/krishi-saathi/pkg/logger"
	twiliox "github.com/tanpawarit/krishi-saathi/pkg/twilio"
)

// RequestLogger attaches a request scoped zerolog logger to the context and
// writes one line per request. It must run after chi's RequestID.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := logx.Component("http").With().
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Logger()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request served")
		}()

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))
	})
}

// TwilioSignature rejects webhook posts whose X-Twilio-Signature does not
// match the form parameters. Twilio only ever posts forms, so JSON bodies are
// refused while validation is on.
func TwilioSignature(authToken, publicBaseURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isJSON(r) {
				Error(w, http.StatusForbidden, "Invalid signature")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := r.ParseForm(); err != nil {
				Error(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			base := publicBaseURL
			if base == "" {
				base = requestBaseURL(r)
			}
			fullURL := base + r.URL.RequestURI()
			if !twiliox.ValidSignature(authToken, fullURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
				logger := logx.Component("http")
				logger.Warn().Str("url", fullURL).Msg("twilio signature rejected")
				Error(w, http.StatusForbidden, "Invalid signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
