package authority

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/relay/models"
	dErrors "gatekeeper/pkg/domain-errors"
)

func request() *models.AuthorityRequest {
	return &models.AuthorityRequest{
		ID:         "42",
		Guild:      "7",
		ServerData: models.ServerData{IP: "203.0.113.9", Score: 0.9},
	}
}

func TestForwardSendsBearerAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verified", r.URL.Path)
		assert.Equal(t, "Bearer shared", r.Header.Get("Authorization"))

		var got models.AuthorityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "42", got.ID)
		assert.Equal(t, "7", got.Guild)
		assert.Equal(t, 0.9, got.ServerData.Score)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL+"/", "shared").Forward(context.Background(), request()))
}

func TestForwardClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"5xx", http.StatusBadGateway, "", models.ReasonDownstream5xx},
		{"4xx", http.StatusForbidden, "", models.ReasonDownstream4xx},
		{"explicit rejection", http.StatusOK, `{"success":false,"message":"member not in guild"}`, models.ReasonDownstreamRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			err := New(server.URL, "shared").Forward(context.Background(), request())

			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeDownstreamUnavailable))
			assert.Equal(t, tc.reason, dErrors.ReasonOf(err))
		})
	}
}

func TestForwardAcceptsEmptyOrPlainBody(t *testing.T) {
	for _, body := range []string{"", "ok", `{}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		assert.NoError(t, New(server.URL, "shared").Forward(context.Background(), request()), body)
		server.Close()
	}
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	err := New(server.URL, "shared", WithTimeout(50*time.Millisecond)).Forward(context.Background(), request())

	assert.Equal(t, models.ReasonDownstreamTimeout, dErrors.ReasonOf(err))
}

func TestForwardCallerCancelIsNotBlamedOnAuthority(t *testing.T) {
	arrived := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// the server watches for a client hang-up only once the body is consumed
		_, _ = io.Copy(io.Discard, r.Body)
		close(arrived)
		<-r.Context().Done()
	}))
	defer server.Close()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	err := New(server.URL, "shared").Forward(ctx, request())

	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout), "code: %v", err)
	assert.Equal(t, models.ReasonTimeout, dErrors.ReasonOf(err))
}

func TestForwardConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = New("http://"+addr, "shared").Forward(context.Background(), request())

	assert.Equal(t, models.ReasonDownstreamRefused, dErrors.ReasonOf(err))
}
