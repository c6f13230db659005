package log

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport is an http.RoundTripper that stamps outgoing requests with a
// request id and logs each upstream call with its status and latency.
type Transport struct {
	Base   http.RoundTripper
	Logger zerolog.Logger
	Name   string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger zerolog.Logger, name string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger, Name: name}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := req.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = RequestID(req.Context())
	}
	if reqID == "" {
		reqID = uuid.New().String()
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set(HeaderRequestID, reqID)

	resp, err := t.Base.RoundTrip(out)

	evt := t.Logger.Debug()
	if err != nil {
		evt = t.Logger.Warn().Err(err)
	} else if resp.StatusCode >= http.StatusInternalServerError {
		evt = t.Logger.Warn().Int(FieldStatus, resp.StatusCode)
	} else {
		evt = evt.Int(FieldStatus, resp.StatusCode)
	}
	evt.Str(FieldUpstream, t.Name).
		Str(FieldRequestID, reqID).
		Str(FieldMethod, req.Method).
		Str(FieldURL, req.URL.Redacted()).
		Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
		Msg("upstream call completed")

	return resp, err
}
