package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
)

// ErrNoStreams indicates the extractor produced metadata but no usable
// video or audio stream could be selected from it.
var ErrNoStreams = errors.New("no usable streams found")

// Extractor resolves a page URL into direct stream URLs by shelling out
// to yt-dlp and parsing its JSON metadata dump.
type Extractor struct {
	binPath    string
	cookiesDir string
}

// NewExtractor constructs an extractor using the given yt-dlp binary.
// cookiesDir may be empty, in which case no cookies are ever attached.
func NewExtractor(binPath string, cookiesDir string) *Extractor {
	if binPath == "" {
		binPath = "yt-dlp"
	}

	return &Extractor{binPath: binPath, cookiesDir: cookiesDir}
}

type extractFormat struct {
	URL    string  `json:"url"`
	VCodec string  `json:"vcodec"`
	ACodec string  `json:"acodec"`
	Height int     `json:"height"`
	TBR    float64 `json:"tbr"`
}

type extractInfo struct {
	URL              string          `json:"url"`
	Formats          []extractFormat `json:"formats"`
	RequestedFormats []extractFormat `json:"requested_formats"`
}

// ExtractStreams resolves the page URL to the kind of media it carries
// and one or two direct stream URLs. Two URLs mean a video+audio pair
// that must be muxed after download; a pair is only selected when no
// combined format exists.
func (ex *Extractor) ExtractStreams(ctx context.Context, pageURL string) (media.Kind, []string, error) {
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	if cookies := ex.cookieFile(pageURL); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, pageURL)

	cmd := exec.CommandContext(ctx, ex.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Extracting stream metadata for %s\n", pageURL)
	if err := cmd.Run(); err != nil {
		return 0, nil, errors.Wrapf(err, "stream extraction failed for %s: %s", pageURL, lastLine(stderr.String()))
	}

	var info extractInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return 0, nil, errors.Wrapf(err, "malformed extractor metadata for %s", pageURL)
	}

	return selectStreams(info)
}

// selectStreams picks the delivery streams from extractor metadata. The
// extractor's own pre-selected formats win when present; otherwise the
// best combined format is preferred, and a separate video+audio pair is
// used only when no combined format exists.
func selectStreams(info extractInfo) (media.Kind, []string, error) {
	if len(info.RequestedFormats) > 0 {
		urls := make([]string, 0, len(info.RequestedFormats))
		for _, format := range info.RequestedFormats {
			if format.URL != "" {
				urls = append(urls, format.URL)
			}
		}
		if len(urls) > 0 {
			return media.Video, urls, nil
		}
	}

	var combined, videoOnly, audioOnly *extractFormat
	for i := range info.Formats {
		format := &info.Formats[i]
		if format.URL == "" {
			continue
		}

		hasVideo := format.VCodec != "" && format.VCodec != "none"
		hasAudio := format.ACodec != "" && format.ACodec != "none"
		switch {
		case hasVideo && hasAudio:
			if combined == nil || format.Height > combined.Height {
				combined = format
			}
		case hasVideo:
			if videoOnly == nil || format.Height > videoOnly.Height {
				videoOnly = format
			}
		case hasAudio:
			if audioOnly == nil || format.TBR > audioOnly.TBR {
				audioOnly = format
			}
		}
	}

	switch {
	case combined != nil:
		return media.Video, []string{combined.URL}, nil
	case videoOnly != nil && audioOnly != nil:
		return media.Video, []string{videoOnly.URL, audioOnly.URL}, nil
	case videoOnly != nil:
		return media.Video, []string{videoOnly.URL}, nil
	case audioOnly != nil:
		return media.Audio, []string{audioOnly.URL}, nil
	case info.URL != "":
		return media.Video, []string{info.URL}, nil
	}

	return 0, nil, ErrNoStreams
}

// cookieDomains maps a hostname fragment to the cookie file expected in
// the configured cookies directory.
var cookieDomains = map[string]string{
	"instagram.com": "instagram.txt",
	"tiktok.com":    "tiktok.txt",
	"twitter.com":   "twitter.txt",
	"x.com":         "twitter.txt",
	"vk.com":        "vk.txt",
	"youtube.com":   "youtube.txt",
	"youtu.be":      "youtube.txt",
}

func (ex *Extractor) cookieFile(pageURL string) string {
	if ex.cookiesDir == "" {
		return ""
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	for domain, file := range cookieDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			path := filepath.Join(ex.cookiesDir, file)
			if _, err := os.Stat(path); err == nil {
				return path
			}
			return ""
		}
	}

	return ""
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return ""
	}

	return strings.TrimSpace(lines[len(lines)-1])
}
