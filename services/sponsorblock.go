package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
)

const maxProbeBody = 1 << 20

// SegmentProbe reports whether skip-segment data exists for an item.
// Implementations never fail: every error means "not yet available".
type SegmentProbe interface {
	HasSegments(ctx context.Context, itemID string, categories []string) bool
}

type sponsorBlockProbe struct {
	cfg     config.Provider
	client  *http.Client
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewSponsorBlockProbe creates a probe against the SponsorBlock skipSegments
// endpoint. The endpoint and timeout are read from cfg on every call.
func NewSponsorBlockProbe(cfg config.Provider, m *metrics.Metrics, log logger.Logger) SegmentProbe {
	return &sponsorBlockProbe{cfg: cfg, client: &http.Client{}, metrics: m, log: log}
}

// settings returns the current endpoint and timeout, with defaults for unset values.
func (p *sponsorBlockProbe) settings() (string, time.Duration) {
	sb := p.cfg.Get().SponsorBlock
	endpoint := sb.APIURL
	if endpoint == "" {
		endpoint = config.DefaultSponsorBlockAPI
	}
	timeout := sb.Timeout
	if timeout <= 0 {
		timeout = config.DefaultSponsorTimeout
	}
	return endpoint, timeout
}

func (p *sponsorBlockProbe) HasSegments(ctx context.Context, itemID string, categories []string) bool {
	found := p.query(ctx, itemID, categories)
	p.metrics.ObserveProbe(found)
	return found
}

func (p *sponsorBlockProbe) query(ctx context.Context, itemID string, categories []string) bool {
	endpoint, timeout := p.settings()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(endpoint)
	if err != nil {
		p.log.Warn("Invalid SponsorBlock endpoint", logger.String("endpoint", endpoint), logger.Error(err))
		return false
	}
	q := u.Query()
	q.Set("videoID", itemID)
	if len(categories) > 0 {
		encoded, err := json.Marshal(categories)
		if err != nil {
			return false
		}
		q.Set("categories", string(encoded))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("SponsorBlock probe failed", logger.String("item_id", itemID), logger.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode != http.StatusNotFound {
			p.log.Debug("SponsorBlock probe non-success status",
				logger.String("item_id", itemID), logger.Int("status", resp.StatusCode))
		}
		return false
	}

	var segments []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProbeBody)).Decode(&segments); err != nil {
		p.log.Debug("SponsorBlock probe returned unparseable body", logger.String("item_id", itemID), logger.Error(err))
		return false
	}
	return len(segments) > 0
}
