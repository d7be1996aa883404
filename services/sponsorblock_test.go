package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
)

func newTestProbe(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (SegmentProbe, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m := metrics.New()
	return NewSponsorBlockProbe(sponsorConfig(srv.URL+"/api/skipSegments", timeout), m, logger.NewNop()), m
}

func sponsorConfig(endpoint string, timeout time.Duration) config.Static {
	cfg := config.Default()
	cfg.SponsorBlock.APIURL = endpoint
	cfg.SponsorBlock.Timeout = timeout
	return config.Static(cfg)
}

func TestSponsorBlockProbeRequest(t *testing.T) {
	var gotID string
	var gotCategories []string
	probe, m := newTestProbe(t, func(w http.ResponseWriter, r *http.Request) {
		gotID = r.URL.Query().Get("videoID")
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("categories")), &gotCategories))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"segment":[1.0,5.5],"category":"sponsor","UUID":"x"}]`))
	}, time.Second)

	found := probe.HasSegments(context.Background(), "dQw4w9WgXcQ", []string{"sponsor", "selfpromo"})

	assert.True(t, found)
	assert.Equal(t, "dQw4w9WgXcQ", gotID)
	assert.Equal(t, []string{"sponsor", "selfpromo"}, gotCategories)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeTotal.WithLabelValues("present")))
}

func TestSponsorBlockProbeNegatives(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Not Found", http.StatusNotFound)
		}},
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`[{"segment": [1,`))
		}},
		{"object body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"message":"nope"}`))
		}},
		{"empty array", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`[]`))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe, _ := newTestProbe(t, tt.handler, 100*time.Millisecond)
			start := time.Now()
			assert.False(t, probe.HasSegments(context.Background(), "abc", []string{"sponsor"}))
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

func TestSponsorBlockProbeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	probe := NewSponsorBlockProbe(sponsorConfig(endpoint, time.Second), nil, logger.NewNop())
	assert.False(t, probe.HasSegments(context.Background(), "abc", nil))
}

func TestSponsorBlockProbeFollowsConfigChanges(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(empty.Close)
	full := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"segment":[0,1]}]`))
	}))
	t.Cleanup(full.Close)

	cfg := config.Default()
	cfg.SponsorBlock.APIURL = empty.URL
	mgr, err := config.NewManager(cfg, "")
	require.NoError(t, err)
	probe := NewSponsorBlockProbe(mgr, nil, logger.NewNop())
	assert.False(t, probe.HasSegments(context.Background(), "abc", []string{"sponsor"}))

	_, err = mgr.Update(func(c *config.Configuration) { c.SponsorBlock.APIURL = full.URL })
	require.NoError(t, err)
	assert.True(t, probe.HasSegments(context.Background(), "abc", []string{"sponsor"}))
}
