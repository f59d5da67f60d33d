package linker

import (
	"path"
	"strings"

	"go.uber.org/zap"
)

// Defaults applied by NewResolver and NewLoader.
const (
	DefaultPlaceholder   = "?"
	DefaultExtension     = ".js"
	DefaultMaxAliasDepth = 32
)

// Options configures module resolution and loading.
type Options struct {
	// Files supplies module source. Nil uses OSFiles.
	Files FileSource

	// Placeholder is the token in SearchPaths replaced by the specifier.
	Placeholder string

	// DefaultExtension is appended to specifiers that have none.
	DefaultExtension string

	// SearchPaths are templates such as "/app/lib/?.js", tried in order.
	SearchPaths []string

	// MaxAliasDepth caps alias chain following.
	MaxAliasDepth int
}

func (o Options) withDefaults() Options {
	if o.Files == nil {
		o.Files = OSFiles{}
	}
	if o.Placeholder == "" {
		o.Placeholder = DefaultPlaceholder
	}
	if o.DefaultExtension == "" {
		o.DefaultExtension = DefaultExtension
	}
	if o.MaxAliasDepth <= 0 {
		o.MaxAliasDepth = DefaultMaxAliasDepth
	}
	return o
}

type templateKey struct {
	template  string
	specifier string
}

// Resolver maps (specifier, referrer) pairs to canonical module paths.
// Search-path hits are cached per template and specifier; misses are not,
// so a file created later is still found.
type Resolver struct {
	cache map[templateKey]string
	opts  Options
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	return &Resolver{
		opts:  opts.withDefaults(),
		cache: make(map[templateKey]string),
	}
}

// Via records which rule produced a resolution.
type Via uint8

const (
	ViaSearch   Via = iota + 1 // a search path template matched
	ViaEntry                   // entry point taken as given
	ViaAbsolute                // absolute specifier, cleaned
	ViaRelative                // joined onto the referrer's directory
)

// Global reports whether the resolution is the same from every referrer.
// Only such results may be aliased graph-wide.
func (v Via) Global() bool {
	return v == ViaSearch || v == ViaAbsolute
}

func (v Via) String() string {
	switch v {
	case ViaSearch:
		return "search"
	case ViaEntry:
		return "entry"
	case ViaAbsolute:
		return "absolute"
	case ViaRelative:
		return "relative"
	}
	return "unknown"
}

// Resolve returns the canonical path for specifier imported from referrer.
// An empty referrer means the specifier is an entry point.
func (r *Resolver) Resolve(specifier, referrer string) string {
	p, _ := r.Lookup(specifier, referrer)
	return p
}

// Lookup is Resolve that also reports which rule matched.
func (r *Resolver) Lookup(specifier, referrer string) (string, Via) {
	if hit, ok := r.search(specifier); ok {
		return hit, ViaSearch
	}
	if path.IsAbs(specifier) {
		return r.withExtension(path.Clean(specifier)), ViaAbsolute
	}
	if referrer == "" {
		return r.withExtension(specifier), ViaEntry
	}
	return r.withExtension(path.Join(path.Dir(referrer), specifier)), ViaRelative
}

// Cached returns the number of cached search-path hits.
func (r *Resolver) Cached() int {
	return len(r.cache)
}

func (r *Resolver) search(specifier string) (string, bool) {
	for _, tpl := range r.opts.SearchPaths {
		key := templateKey{template: tpl, specifier: specifier}
		if hit, ok := r.cache[key]; ok {
			return hit, true
		}
		candidate := strings.ReplaceAll(tpl, r.opts.Placeholder, specifier)
		candidate = r.withExtension(path.Clean(candidate))
		if r.opts.Files.IsFile(candidate) {
			r.cache[key] = candidate
			Logger().Debug("search path hit",
				zap.String("specifier", specifier),
				zap.String("path", candidate))
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) withExtension(p string) string {
	if path.Ext(p) == "" {
		return p + r.opts.DefaultExtension
	}
	return p
}
