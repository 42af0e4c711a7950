package media

import "errors"

// ErrOversized marks a fetched or converted file that exceeds the delivery
// size ceiling for its kind. Oversized output is deleted, never delivered.
var ErrOversized = errors.New("file exceeds the delivery size ceiling")
