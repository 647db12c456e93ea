package isapi

import (
	"strings"
	"sync"

	"github.com/JoshADC/hikvision-isapi/internal/model"
)

// DescriptorStore owns the normalized setting descriptors for one camera.
// Readers get copies; the store is the only writer after the initial build.
type DescriptorStore struct {
	mu       sync.RWMutex
	settings []model.Setting
	index    map[string]int
	values   map[string]string
}

func NewDescriptorStore() *DescriptorStore {
	return &DescriptorStore{
		index:  map[string]int{},
		values: map[string]string{},
	}
}

// Rebuild replaces the whole collection, typically after a capability
// schema fetch.
func (s *DescriptorStore) Rebuild(settings []model.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = make([]model.Setting, len(settings))
	copy(s.settings, settings)
	s.index = make(map[string]int, len(settings))
	for i, st := range s.settings {
		s.index[st.Path] = i
		if st.CurrentValue != "" {
			s.values[st.Path] = st.CurrentValue
		}
	}
}

// List returns a snapshot of all descriptors.
func (s *DescriptorStore) List() []model.Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Setting, len(s.settings))
	copy(out, s.settings)
	return out
}

func (s *DescriptorStore) Get(path string) (model.Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[path]
	if !ok {
		return model.Setting{}, false
	}
	return s.settings[i], true
}

// Values returns the last-known flat path/value map, including the linked
// enabled flags that have no descriptor of their own.
func (s *DescriptorStore) Values() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Refresh updates every descriptor's current value from a freshly fetched
// flat map. A linked descriptor whose enabled flag is not "true" reads as
// its off value even when the mode node is absent from the document; the
// camera physically omits the node while the feature is off.
func (s *DescriptorStore) Refresh(flat map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range flat {
		s.values[k] = v
	}
	for i := range s.settings {
		st := &s.settings[i]
		if st.Linked() {
			if !strings.EqualFold(flat[st.LinkedEnabledPath], "true") {
				st.CurrentValue = st.OffValue
				continue
			}
		}
		if v, ok := flat[st.Path]; ok {
			st.CurrentValue = v
		}
	}
}

// SetCurrent applies an optimistic update after a successful write. For a
// linked descriptor the enabled flag follows the mode: writing the off
// value means the feature was disabled.
func (s *DescriptorStore) SetCurrent(path, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[path]
	if !ok {
		return
	}
	st := &s.settings[i]
	st.CurrentValue = value
	s.values[path] = value
	if st.Linked() {
		if value == st.OffValue {
			s.values[st.LinkedEnabledPath] = "false"
		} else {
			s.values[st.LinkedEnabledPath] = "true"
		}
	}
}
