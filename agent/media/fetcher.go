// Package media downloads audio and images that channel providers host for
// inbound messages.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	contractx "github.com/tanpawarit/krishi-saathi/agent/contract"
	twiliox "github.com/tanpawarit/krishi-saathi/pkg/twilio"
)

var ErrEmptyURL = errors.New("media url is empty")

// Fetcher uses Twilio credentials for Twilio hosted media and a plain GET for
// everything else.
type Fetcher struct {
	twilio *twiliox.Client
	http   *http.Client
}

var _ contractx.MediaFetcher = (*Fetcher)(nil)

// NewFetcher accepts a nil twilio client, in which case every download is
// anonymous.
func NewFetcher(twilio *twiliox.Client, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		twilio: twilio,
		http:   &http.Client{Timeout: timeout},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (contractx.Media, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return contractx.Media{}, ErrEmptyURL
	}

	var (
		data []byte
		mime string
		err  error
	)
	if f.twilio != nil {
		data, mime, err = f.twilio.FetchMedia(ctx, url)
	} else {
		data, mime, err = twiliox.FetchPublic(ctx, f.http, url)
	}
	if err != nil {
		return contractx.Media{}, fmt.Errorf("%w: %w", contractx.ErrMediaFetch, err)
	}
	return contractx.Media{Data: data, MIMEType: mime}, nil
}
