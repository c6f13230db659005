package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportStampsRequestID(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get(HeaderRequestID))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "debug"}, &buf)
	client := &http.Client{Transport: NewTransport(nil, logger, "api")}

	ctx := WithRequestID(context.Background(), "req-from-ctx")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/1?token=secret", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get(HeaderRequestID), "caller request is not modified")

	req, err = http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, got, 2)
	assert.Equal(t, "req-from-ctx", got[0])
	assert.NotEmpty(t, got[1])

	var entry map[string]interface{}
	line, err := buf.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "api", entry[FieldUpstream])
	assert.Equal(t, float64(http.StatusBadGateway), entry[FieldStatus])
	assert.Equal(t, "req-from-ctx", entry[FieldRequestID])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("DEBUG").String())
	assert.Equal(t, "info", ParseLevel("bogus").String())
	assert.Equal(t, "disabled", ParseLevel("off").String())
}
