package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
	"github.com/shzored/mediabot/pkg/logger"
)

var log = logger.Get("Fetch")

// ErrFetchFailed marks a download that failed after the retry budget was
// exhausted, or failed permanently.
var ErrFetchFailed = errors.New("download failed")

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Muxer combines a downloaded video elementary stream and audio
// elementary stream into a single playable container.
type Muxer interface {
	Mux(ctx context.Context, videoPath string, audioPath string, outPath string) (int64, error)
}

// Config carries the static tuning of the retrieval client.
type Config struct {
	UserAgent string
	Retry     RetryPolicy
	Limits    media.Limits
}

// Client downloads media items to local files. Responses are streamed
// straight to disk, never buffered whole in memory. Transient failures
// are retried per the configured policy; anything left behind by a
// failed download is removed before returning.
type Client struct {
	http      *http.Client
	config    Config
	extractor *Extractor
	muxer     Muxer
}

// NewClient constructs a retrieval client. The extractor resolves
// deferred items at download time; the muxer joins stream pairs.
func NewClient(config Config, extractor *Extractor, muxer Muxer) *Client {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.Limits == nil {
		config.Limits = media.DefaultLimits()
	}

	return &Client{
		http:      &http.Client{Timeout: 5 * time.Minute},
		config:    config,
		extractor: extractor,
		muxer:     muxer,
	}
}

// Fetch materialises the item at dest. Deferred items are resolved to
// direct stream URLs first; stream pairs are downloaded separately and
// muxed into dest. Returns the size of the finished file.
func (client *Client) Fetch(ctx context.Context, item media.Item, dest string) (int64, error) {
	urls := item.URLs
	if item.Deferred {
		_, resolved, err := client.extractor.ExtractStreams(ctx, item.SourceURL())
		if err != nil {
			return 0, err
		}
		urls = resolved
	}

	switch len(urls) {
	case 1:
		return client.Download(ctx, item.Kind, urls[0], dest)
	case 2:
		return client.downloadPair(ctx, item.Kind, urls, dest)
	}

	return 0, errors.Wrapf(ErrFetchFailed, "item for %s resolved to %d stream URLs", item.SourceURL(), len(urls))
}

// Download streams the URL to dest, retrying transient failures per the
// client's retry policy. The finished file is checked against the size
// ceiling for its kind; oversized output is deleted.
func (client *Client) Download(ctx context.Context, kind media.Kind, streamURL string, dest string) (int64, error) {
	return client.download(ctx, client.config.Limits[kind], streamURL, dest)
}

// download is the limit-explicit core of Download. A zero limit means
// no ceiling, used for elementary stream parts whose muxed result is
// checked instead.
func (client *Client) download(ctx context.Context, limit int64, streamURL string, dest string) (int64, error) {
	var written int64
	attempt := 0
	operation := func() error {
		attempt++
		size, err := client.tryDownload(ctx, streamURL, dest)
		if err != nil {
			log.Warnf("Download attempt %d for %s failed: %v\n", attempt, streamURL, err)
			return err
		}

		written = size
		return nil
	}

	if err := backoff.Retry(operation, client.config.Retry.backOff(ctx)); err != nil {
		os.Remove(dest)
		return 0, errors.Wrapf(ErrFetchFailed, "after %d attempt(s): %v", attempt, err)
	}

	if limit > 0 && written > limit {
		os.Remove(dest)
		return 0, errors.Wrapf(media.ErrOversized, "%s is %d bytes, ceiling is %d", dest, written, limit)
	}

	log.Debugf("Downloaded %s (%d bytes)\n", dest, written)
	return written, nil
}

func (client *Client) tryDownload(ctx context.Context, streamURL string, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", client.config.UserAgent)

	resp, err := client.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, backoff.Permanent(err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	if written == 0 {
		os.Remove(dest)
		return 0, fmt.Errorf("empty response body from %s", streamURL)
	}

	return written, nil
}

// downloadPair fetches the video and audio elementary streams to scratch
// siblings of dest and muxes them into dest. The part files are removed
// whatever the outcome.
func (client *Client) downloadPair(ctx context.Context, kind media.Kind, urls []string, dest string) (int64, error) {
	if client.muxer == nil {
		return 0, errors.Wrap(ErrFetchFailed, "no muxer available for a video+audio stream pair")
	}

	videoPart := dest + ".video.part"
	audioPart := dest + ".audio.part"
	defer os.Remove(videoPart)
	defer os.Remove(audioPart)

	// Part files are raw elementary streams, only the muxed result is
	// held to the kind's ceiling.
	if _, err := client.download(ctx, 0, urls[0], videoPart); err != nil {
		return 0, err
	}
	if _, err := client.download(ctx, 0, urls[1], audioPart); err != nil {
		return 0, err
	}

	size, err := client.muxer.Mux(ctx, videoPart, audioPart, dest)
	if err != nil {
		os.Remove(dest)
		return 0, err
	}

	if limit, ok := client.config.Limits[kind]; ok && size > limit {
		os.Remove(dest)
		return 0, errors.Wrapf(media.ErrOversized, "%s is %d bytes, ceiling for %s is %d", dest, size, kind, limit)
	}

	return size, nil
}
