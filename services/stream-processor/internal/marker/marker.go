// Package marker recognises event-marker rows: synthetic rows written back into a source table
// to record an already-published event. They must never be republished.
package marker

import (
	"strings"

	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
)

const (
	DefaultKeyPrefix = "EVENT#"
	DefaultAttribute = "recordType"
	DefaultValue     = "EVENT_MARKER"
)

type Filter struct {
	keyPrefix string
	attribute string
	value     string
}

// New returns a filter matching key values that start with keyPrefix, or a key attribute
// named DefaultAttribute holding DefaultValue. An empty prefix falls back to DefaultKeyPrefix.
func New(keyPrefix string) Filter {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return Filter{keyPrefix: keyPrefix, attribute: DefaultAttribute, value: DefaultValue}
}

// IsMarker only inspects the key attributes; it does no I/O.
func (f Filter) IsMarker(keys changefeed.Attributes) bool {
	if v, ok := keys.String(f.attribute); ok && v == f.value {
		return true
	}
	for name := range keys {
		v, ok := keys.String(name)
		if ok && strings.HasPrefix(v, f.keyPrefix) {
			return true
		}
	}
	return false
}
