package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(muxer Muxer) *Client {
	return NewClient(Config{
		Retry: RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	}, NewExtractor("yt-dlp", ""), muxer)
}

func TestDownloadStreamsBodyToDisk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video payload"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	size, err := testClient(nil).Download(context.Background(), media.Video, server.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("video payload")), size)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video payload", string(content))
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("eventually fine"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := testClient(nil).Download(context.Background(), media.Video, server.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownloadGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := testClient(nil).Download(context.Background(), media.Video, server.URL, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.Equal(t, int32(3), calls.Load(), "budget is three attempts")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed download must leave no partial file")
}

func TestDownloadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := testClient(nil).Download(context.Background(), media.Video, server.URL, dest)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a 404 can never succeed on retry")
}

func TestDownloadRejectsOversizedFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer server.Close()

	client := NewClient(Config{
		Retry:  RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond},
		Limits: media.Limits{media.Video: 10},
	}, nil, nil)

	dest := filepath.Join(t.TempDir(), "out.mp4")
	_, err := client.Download(context.Background(), media.Video, server.URL, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrOversized))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "oversized file must be deleted, not delivered")
}

type fakeMuxer struct {
	calls   int
	lastOut string
	err     error
}

func (m *fakeMuxer) Mux(ctx context.Context, videoPath string, audioPath string, outPath string) (int64, error) {
	m.calls++
	m.lastOut = outPath
	if m.err != nil {
		return 0, m.err
	}

	if err := os.WriteFile(outPath, []byte("muxed"), 0o644); err != nil {
		return 0, err
	}
	return int64(len("muxed")), nil
}

func TestFetchPairDownloadsBothStreamsAndMuxes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("stream"))
	}))
	defer server.Close()

	muxer := &fakeMuxer{}
	dest := filepath.Join(t.TempDir(), "out.mp4")
	item := media.Item{Kind: media.Video, URLs: []string{server.URL + "/v", server.URL + "/a"}}

	size, err := testClient(muxer).Fetch(context.Background(), item, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("muxed")), size)
	assert.Equal(t, 1, muxer.calls)
	assert.Equal(t, dest, muxer.lastOut)

	_, err = os.Stat(dest + ".video.part")
	assert.True(t, os.IsNotExist(err), "part files must be removed after muxing")
	_, err = os.Stat(dest + ".audio.part")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchPairHoldsOnlyMuxedResultToCeiling(t *testing.T) {
	// Elementary stream parts can each exceed the kind's ceiling as
	// long as the muxed container comes in under it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer server.Close()

	client := NewClient(Config{
		Retry:  RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond},
		Limits: media.Limits{media.Video: 32},
	}, nil, &fakeMuxer{})

	dest := filepath.Join(t.TempDir(), "out.mp4")
	item := media.Item{Kind: media.Video, URLs: []string{server.URL + "/v", server.URL + "/a"}}

	size, err := client.Fetch(context.Background(), item, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("muxed")), size)
}

func TestFetchPairCleansUpOnMuxFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("stream"))
	}))
	defer server.Close()

	muxer := &fakeMuxer{err: errors.New("mux exploded")}
	dest := filepath.Join(t.TempDir(), "out.mp4")
	item := media.Item{Kind: media.Video, URLs: []string{server.URL + "/v", server.URL + "/a"}}

	_, err := testClient(muxer).Fetch(context.Background(), item, dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest + ".video.part")
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(dest + ".audio.part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchSingleURLItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("photo bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.jpg")
	item := media.Item{Kind: media.Photo, URLs: []string{server.URL}}

	size, err := testClient(nil).Fetch(context.Background(), item, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("photo bytes")), size)
}
