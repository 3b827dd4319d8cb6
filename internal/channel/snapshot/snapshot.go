// Package snapshot implements the Historical Snapshot channel. It asks a
// web archive's availability index for the closest capture of a URL and
// fetches the raw capture.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/JakeFAU/article-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// DefaultAvailabilityURL is the Wayback Machine availability endpoint.
const DefaultAvailabilityURL = "https://archive.org/wayback/available"

// ErrNoCapture is returned when the archive holds no usable capture.
var ErrNoCapture = errors.New("no archived capture")

// captures look like .../web/20240101000000/https://example.com/
var captureTimestamp = regexp.MustCompile(`/web/(\d{4,14})(?:[a-z]{2}_)?/`)

// Config controls the archive client.
type Config struct {
	AvailabilityURL string        `mapstructure:"availability_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Getter is the HTTP client the channel uses.
type Getter interface {
	Get(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

type availability struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Channel is the snapshot retrieval channel.
type Channel struct {
	cfg       Config
	getter    Getter
	extractor *extract.Extractor
}

// New builds the channel.
func New(cfg Config, getter Getter, extractor *extract.Extractor) (*Channel, error) {
	if getter == nil {
		return nil, errors.New("configure snapshot: getter is required")
	}
	if cfg.AvailabilityURL == "" {
		cfg.AvailabilityURL = DefaultAvailabilityURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if extractor == nil {
		extractor = extract.New(nil, nil)
	}
	return &Channel{cfg: cfg, getter: getter, extractor: extractor}, nil
}

// ID implements retrieval.Channel.
func (c *Channel) ID() retrieval.ChannelID {
	return retrieval.ChannelSnapshot
}

// Attempt fetches the closest capture of target.URL.
func (c *Channel) Attempt(ctx context.Context, target retrieval.Target) (retrieval.RetrievalResult, error) {
	captureURL, timestamp, err := c.closest(ctx, target.URL)
	if err != nil {
		return retrieval.RetrievalResult{}, err
	}

	resp, err := c.getter.Get(ctx, collyfetcher.Request{URL: rawCaptureURL(captureURL), Timeout: c.cfg.Timeout})
	if err != nil {
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindTransient, retrieval.ChannelSnapshot, err)
	}
	if err := retrieval.StatusFailure(retrieval.ChannelSnapshot, resp.StatusCode); err != nil {
		return retrieval.RetrievalResult{}, err
	}

	text, err := c.extractor.Extract(resp.Body, target.URL)
	switch {
	case errors.Is(err, extract.ErrNoContent):
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindBlocked, retrieval.ChannelSnapshot, err)
	case err != nil:
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindTransient, retrieval.ChannelSnapshot, err)
	}
	return retrieval.RetrievalResult{
		RawContent:    resp.Body,
		ExtractedText: text,
		Provenance: retrieval.Provenance{
			FinalURL:          captureURL,
			StatusCode:        resp.StatusCode,
			SnapshotTimestamp: timestamp,
		},
	}, nil
}

func (c *Channel) closest(ctx context.Context, target string) (string, string, error) {
	endpoint, err := url.Parse(c.cfg.AvailabilityURL)
	if err != nil {
		return "", "", retrieval.Fail(retrieval.KindTransient, retrieval.ChannelSnapshot, fmt.Errorf("parse availability url: %w", err))
	}
	query := endpoint.Query()
	query.Set("url", target)
	endpoint.RawQuery = query.Encode()

	resp, err := c.getter.Get(ctx, collyfetcher.Request{URL: endpoint.String(), Timeout: c.cfg.Timeout})
	if err != nil {
		return "", "", retrieval.Fail(retrieval.KindTransient, retrieval.ChannelSnapshot, err)
	}
	if resp.StatusCode >= 400 {
		return "", "", retrieval.Failf(retrieval.KindTransient, retrieval.ChannelSnapshot, "availability status %d", resp.StatusCode)
	}

	var body availability
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", "", retrieval.Fail(retrieval.KindTransient, retrieval.ChannelSnapshot, fmt.Errorf("decode availability: %w", err))
	}
	closest := body.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" || (closest.Status != "" && closest.Status != "200") {
		return "", "", retrieval.Fail(retrieval.KindNotFound, retrieval.ChannelSnapshot, ErrNoCapture)
	}
	return closest.URL, closest.Timestamp, nil
}

// rawCaptureURL switches a capture URL to id_ mode, which serves the
// original bytes without the archive's toolbar and link rewriting.
func rawCaptureURL(capture string) string {
	loc := captureTimestamp.FindStringSubmatchIndex(capture)
	if loc == nil {
		return capture
	}
	return capture[:loc[3]] + "id_" + capture[loc[1]-1:]
}
