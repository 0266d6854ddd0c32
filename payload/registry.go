// Package payload maps workflow payload types to serializers under stable
// string tags. The tag is persisted with every workflow instance; resuming
// an instance resolves its codec with a single map lookup instead of
// scanning loaded types at runtime.
package payload

import (
	"reflect"
	"strings"
	"sync"

	"github.com/xraph/waypoint"
)

// Registry maps payload tags to codecs. It is safe for concurrent use.
//
// Registration is expected to happen at process startup, before instances
// are started or resumed. The short-name fallback index is built lazily on
// first use and cached for the lifetime of the process; types registered
// after that are still resolvable by exact tag, but not by short name.
type Registry struct {
	mu      sync.RWMutex
	byTag   map[string]Codec
	byType  map[reflect.Type]Codec
	indexed sync.Once
	short   map[string]Codec
}

// NewRegistry creates an empty payload registry.
func NewRegistry() *Registry {
	return &Registry{
		byTag:  make(map[string]Codec),
		byType: make(map[reflect.Type]Codec),
	}
}

// defaultRegistry is the process-wide registry used by the package-level
// helpers.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register registers type T under the given tag with a JSON codec and
// returns the codec. It panics on a duplicate tag (programming error).
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](r *Registry, tag string) Codec {
	c := NewJSONCodec[T](tag)
	registerTyped[T](r, c)
	return c
}

// RegisterMsgpack registers type T under the given tag with a msgpack codec.
func RegisterMsgpack[T any](r *Registry, tag string) Codec {
	c := NewMsgpackCodec[T](tag)
	registerTyped[T](r, c)
	return c
}

func registerTyped[T any](r *Registry, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTag[c.Tag()]; exists {
		panic(waypoint.ErrDuplicateTag.Error() + ": " + c.Tag())
	}
	r.byTag[c.Tag()] = c
	r.byType[reflect.TypeOf((*T)(nil)).Elem()] = c
}

// Resolve returns the codec registered under the exact tag.
func (r *Registry) Resolve(tag string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byTag[tag]
	return c, ok
}

// ResolveShort returns a codec whose tag's final segment matches the given
// short name, compared case-insensitively. It exists as a fallback for
// records written by older hosts that stored only a bare type name.
// Returns false when no registered tag matches, or when the short name is
// ambiguous across registered types.
func (r *Registry) ResolveShort(name string) (Codec, bool) {
	r.indexed.Do(r.buildShortIndex)

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.short[strings.ToLower(name)]
	return c, ok && c != nil
}

// buildShortIndex derives the short-name lookup table from the registered
// tags. Ambiguous short names map to nil so they never resolve.
func (r *Registry) buildShortIndex() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.short = make(map[string]Codec, len(r.byTag))
	for tag, c := range r.byTag {
		key := strings.ToLower(shortName(tag))
		if _, seen := r.short[key]; seen {
			r.short[key] = nil
			continue
		}
		r.short[key] = c
	}
}

// CodecFor returns the codec registered for the Go type T.
func CodecFor[T any](r *Registry) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byType[reflect.TypeOf((*T)(nil)).Elem()]
	return c, ok
}

// Tags returns all registered tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	return tags
}

// shortName returns the final '.'- or '/'-separated segment of a tag.
func shortName(tag string) string {
	if i := strings.LastIndexAny(tag, "./"); i >= 0 && i+1 < len(tag) {
		return tag[i+1:]
	}
	return tag
}
