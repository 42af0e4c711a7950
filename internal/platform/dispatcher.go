package platform

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
	"github.com/shzored/mediabot/pkg/logger"
	"golang.org/x/net/html"
)

var log = logger.Get("Platform")

var (
	// ErrUnsupported indicates the URL's host matches no known platform.
	ErrUnsupported = errors.New("platform is not supported")

	// ErrNoMedia indicates a supported page was resolved but carried no
	// downloadable media.
	ErrNoMedia = errors.New("no media found at the link")
)

// Platform identifies the hosting service a URL belongs to.
type Platform int

const (
	Unsupported Platform = iota
	YouTube
	Instagram
	TikTok
	Pinterest
	VK
	Twitter
)

func (p Platform) String() string {
	switch p {
	case YouTube:
		return "YouTube"
	case Instagram:
		return "Instagram"
	case TikTok:
		return "TikTok"
	case Pinterest:
		return "Pinterest"
	case VK:
		return "VK"
	case Twitter:
		return "Twitter"
	}

	return "Unsupported"
}

var platformDomains = map[Platform][]string{
	YouTube:   {"youtube.com", "youtu.be"},
	Instagram: {"instagram.com"},
	TikTok:    {"tiktok.com"},
	Pinterest: {"pinterest.com", "pin.it"},
	VK:        {"vk.com", "vkvideo.ru"},
	Twitter:   {"twitter.com", "x.com"},
}

// Classify maps a URL to its hosting platform by hostname suffix.
func Classify(rawURL string) Platform {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Unsupported
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	for platform, domains := range platformDomains {
		for _, domain := range domains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return platform
			}
		}
	}

	return Unsupported
}

// Resolution is the dispatch outcome for a URL: the media items found,
// their kind, and whether the requester must choose a delivery format
// before anything is fetched.
type Resolution struct {
	Kind        media.Kind
	Items       []media.Item
	Interactive bool
}

type extractor interface {
	ExtractStreams(ctx context.Context, pageURL string) (media.Kind, []string, error)
}

// Config carries the external tools the dispatcher shells out to.
type Config struct {
	GalleryDLPath string
	CookiesDir    string
}

// Dispatcher resolves a classified URL into concrete media items. Each
// platform has its own resolution strategy: scraping, a metadata
// extractor run, or deferral to download time.
type Dispatcher struct {
	http      *http.Client
	config    Config
	extractor extractor
}

// NewDispatcher constructs a dispatcher. The extractor is used for
// platforms whose pages must be resolved eagerly (VK).
func NewDispatcher(config Config, ex extractor) *Dispatcher {
	if config.GalleryDLPath == "" {
		config.GalleryDLPath = "gallery-dl"
	}

	return &Dispatcher{http: &http.Client{}, config: config, extractor: ex}
}

// Classify maps a URL to its hosting platform.
func (d *Dispatcher) Classify(rawURL string) Platform { return Classify(rawURL) }

// Resolve produces the media items behind the URL. Video platforms
// with a format choice resolve to a single deferred interactive item;
// gallery platforms resolve to their full item list eagerly.
func (d *Dispatcher) Resolve(ctx context.Context, rawURL string, platform Platform) (Resolution, error) {
	switch platform {
	case Pinterest:
		return d.resolvePinterest(ctx, rawURL)
	case Instagram:
		return d.resolveInstagram(ctx, rawURL)
	case VK:
		return d.resolveVK(ctx, rawURL)
	case YouTube, TikTok, Twitter:
		return Resolution{
			Kind:        media.Video,
			Items:       []media.Item{{Kind: media.Video, URLs: []string{rawURL}, Source: rawURL, Deferred: true}},
			Interactive: true,
		}, nil
	}

	return Resolution{}, errors.Wrap(ErrUnsupported, rawURL)
}

// resolvePinterest scrapes the pin page for its media. Short share
// links are expanded first. A pin holds either one video or one image;
// thumbnail image URLs are upgraded to the original resolution.
func (d *Dispatcher) resolvePinterest(ctx context.Context, rawURL string) (Resolution, error) {
	pageURL := rawURL
	if strings.Contains(pageURL, "pin.it") {
		resolved, err := d.resolveRedirect(ctx, pageURL)
		if err != nil {
			return Resolution{}, err
		}
		pageURL = resolved
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Resolution{}, err
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "failed to load pin page %s", pageURL)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "failed to parse pin page %s", pageURL)
	}

	if videoURL := findFirstAttr(doc, "video", "src"); videoURL != "" {
		return Resolution{
			Kind:  media.Video,
			Items: []media.Item{{Kind: media.Video, URLs: []string{videoURL}}},
		}, nil
	}

	if imageURL := findFirstAttr(doc, "img", "src"); imageURL != "" {
		imageURL = strings.Replace(imageURL, "/236x/", "/originals/", 1)
		return Resolution{
			Kind:  media.Photo,
			Items: []media.Item{{Kind: media.Photo, URLs: []string{imageURL}}},
		}, nil
	}

	return Resolution{}, errors.Wrap(ErrNoMedia, pageURL)
}

// resolveInstagram lists post media through gallery-dl. Posts can mix
// photos and videos; every entry becomes its own indexed item.
func (d *Dispatcher) resolveInstagram(ctx context.Context, rawURL string) (Resolution, error) {
	pageURL := rawURL
	if strings.Contains(pageURL, "/share/") {
		resolved, err := d.resolveRedirect(ctx, pageURL)
		if err != nil {
			return Resolution{}, err
		}
		pageURL = resolved
	}

	args := []string{"--no-download", "--get-urls"}
	if cookies := d.instagramCookies(); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, pageURL)

	cmd := exec.CommandContext(ctx, d.config.GalleryDLPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Listing gallery media for %s\n", pageURL)
	if err := cmd.Run(); err != nil {
		return Resolution{}, errors.Wrapf(err, "gallery listing failed for %s: %s", pageURL, strings.TrimSpace(stderr.String()))
	}

	items := make([]media.Item, 0, 4)
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		items = append(items, media.Item{
			Kind:  kindFromURL(line),
			URLs:  []string{line},
			Index: len(items),
		})
	}

	if len(items) == 0 {
		return Resolution{}, errors.Wrap(ErrNoMedia, pageURL)
	}

	return Resolution{Kind: items[0].Kind, Items: items}, nil
}

// resolveVK resolves the video streams eagerly so unsupported or
// private posts fail before anything is queued for download. The item
// stays keyed on the page URL; the extracted stream URLs expire.
func (d *Dispatcher) resolveVK(ctx context.Context, rawURL string) (Resolution, error) {
	kind, urls, err := d.extractor.ExtractStreams(ctx, rawURL)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Kind:  kind,
		Items: []media.Item{{Kind: kind, URLs: urls, Source: rawURL}},
	}, nil
}

// resolveRedirect follows the redirect chain of a share link and
// returns the final URL.
func (d *Dispatcher) resolveRedirect(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand share link %s", rawURL)
	}
	resp.Body.Close()

	final := resp.Request.URL.String()
	log.Debugf("Expanded share link %s -> %s\n", rawURL, final)
	return final, nil
}

func (d *Dispatcher) instagramCookies() string {
	if d.config.CookiesDir == "" {
		return ""
	}

	path := filepath.Join(d.config.CookiesDir, "instagram.txt")
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	return path
}

// kindFromURL guesses the media kind of a direct URL from its path
// extension, defaulting to video.
func kindFromURL(rawURL string) media.Kind {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return media.Video
	}

	switch strings.ToLower(filepath.Ext(parsed.Path)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
		return media.Photo
	}

	return media.Video
}

// findFirstAttr walks the parse tree depth first and returns the value
// of the named attribute on the first matching element.
func findFirstAttr(node *html.Node, element string, attr string) string {
	if node.Type == html.ElementNode && node.Data == element {
		for _, a := range node.Attr {
			if a.Key == attr && a.Val != "" {
				return a.Val
			}
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirstAttr(child, element, attr); found != "" {
			return found
		}
	}

	return ""
}
