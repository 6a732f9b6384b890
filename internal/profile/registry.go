package profile

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownProfile = errors.New("unknown profile")

// Signal is what detection inspects: the rendered page text and its URL.
type Signal struct {
	HTML string
	URL  string
}

// Registry maps profile names to bundles. Registration order is detection order.
type Registry struct {
	mu      sync.RWMutex
	bundles []SelectorBundle
	index   map[string]int
}

// NewRegistry returns a registry holding the built-in bundles.
func NewRegistry() *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, b := range builtinBundles() {
		r.add(b)
	}
	return r
}

func (r *Registry) add(b SelectorBundle) {
	key := strings.ToLower(b.Name)
	if i, ok := r.index[key]; ok {
		r.bundles[i] = b.clone()
		return
	}
	r.index[key] = len(r.bundles)
	r.bundles = append(r.bundles, b.clone())
}

// Register adds a bundle, or replaces a bundle with the same name in place.
// Empty roles inherit the Generic selectors.
func (r *Registry) Register(b SelectorBundle) error {
	b.Name = strings.TrimSpace(b.Name)
	if IsAuto(b.Name) {
		return fmt.Errorf("profile name %q is reserved for detection", b.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if generic, ok := r.lookup(Generic); ok && !strings.EqualFold(b.Name, Generic) {
		b.inherit(generic)
	}

	if err := b.Validate(); err != nil {
		return err
	}

	r.add(b)
	return nil
}

func (r *Registry) lookup(name string) (SelectorBundle, bool) {
	i, ok := r.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return SelectorBundle{}, false
	}
	return r.bundles[i].clone(), true
}

// Get returns the bundle registered under name, ignoring case.
func (r *Registry) Get(name string) (SelectorBundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(name)
}

// Has reports whether name is "auto" or a registered profile.
func (r *Registry) Has(name string) bool {
	if IsAuto(name) {
		return true
	}
	_, ok := r.Get(name)
	return ok
}

// Names lists profiles in detection order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.bundles))
	for i, b := range r.bundles {
		names[i] = b.Name
	}
	return names
}

// Detect returns the first bundle whose fingerprint matches the signal, or
// Generic. All HTML fingerprints are checked before any URL fingerprint, each
// pass in registration order.
func (r *Registry) Detect(signal Signal) SelectorBundle {
	html := strings.ToLower(signal.HTML)
	url := strings.ToLower(signal.URL)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bundles {
		if containsAny(html, b.HTMLMarkers) {
			return b.clone()
		}
	}

	for _, b := range r.bundles {
		if containsAny(url, b.URLMarkers) {
			return b.clone()
		}
	}

	generic, _ := r.lookup(Generic)
	return generic
}

// Resolve picks the bundle for a crawl. A registered name wins unconditionally;
// "auto" or an empty name runs detection. Unknown names degrade to Generic.
func (r *Registry) Resolve(requested string, signal Signal) SelectorBundle {
	if IsAuto(requested) {
		return r.Detect(signal)
	}

	if b, ok := r.Get(requested); ok {
		return b
	}

	generic, _ := r.Get(Generic)
	return generic
}

// IsAuto reports whether name asks for detection.
func IsAuto(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, Auto) || strings.EqualFold(name, "auto-detect")
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
