package tracker

import (
	"net/http"

	"golang.org/x/time/rate"
)

// tokenTransport authenticates every request with a personal access token and
// waits on the limiter before it goes out.
type tokenTransport struct {
	token   string
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	r := req.Clone(req.Context())
	if t.token != "" {
		r.Header.Set("Authorization", "token "+t.token)
	}
	r.Header.Set("Accept", "application/vnd.github+json")
	return t.base.RoundTrip(r)
}
