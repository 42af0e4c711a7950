package media

import "fmt"

// Kind enumerates the deliverable media kinds. Audio and voice exist only
// as conversion products; photo and video can be fetched directly.
type Kind int

const (
	Video Kind = iota
	Photo
	Audio
	Voice
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Photo:
		return "photo"
	case Audio:
		return "audio"
	case Voice:
		return "voice"
	}

	return fmt.Sprintf("UNKNOWN[%d]", k)
}

// Ext returns the container extension used for files of this kind.
func (k Kind) Ext() string {
	switch k {
	case Video:
		return "mp4"
	case Photo:
		return "jpg"
	case Audio:
		return "mp3"
	case Voice:
		return "ogg"
	}

	return "bin"
}

// Kinds lists every kind, in cache-directory order.
func Kinds() []Kind { return []Kind{Video, Photo, Audio, Voice} }

// Item is one unit of content to deliver. URLs holds either a single
// source URL, or a video+audio elementary stream pair that must be muxed
// after download. Deferred items carry the original page URL and rely on
// the retrieval client's embedded extractor to resolve streams at
// download time. Source, when set, is the stable page URL the item is
// keyed on; extracted stream URLs carry expiring signatures and must
// never be cache keys. Items are immutable once constructed.
type Item struct {
	Kind     Kind
	URLs     []string
	Source   string
	Index    int
	Deferred bool
}

// SourceURL returns the URL this item is keyed on: the stable page URL
// when one is known, otherwise the primary stream URL.
func (it Item) SourceURL() string {
	if it.Source != "" {
		return it.Source
	}
	if len(it.URLs) == 0 {
		return ""
	}
	return it.URLs[0]
}

// IsPair reports whether the item is a separate video+audio stream pair.
func (it Item) IsPair() bool { return len(it.URLs) == 2 }

// Limits is the per-kind delivery size ceiling in bytes. An output above
// its ceiling is a failure, never a truncation.
type Limits map[Kind]int64

const mib = 1024 * 1024

// DefaultLimits mirrors the Telegram bot API upload ceilings.
func DefaultLimits() Limits {
	return Limits{
		Video: 50 * mib,
		Photo: 10 * mib,
		Audio: 50 * mib,
		Voice: 50 * mib,
	}
}
