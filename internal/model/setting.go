package model

// SettingKind is the closed set of control types a camera setting maps to.
// Consumers switch over it exhaustively; there is no open-ended subtype.
type SettingKind string

const (
	KindToggle SettingKind = "toggle"
	KindNumber SettingKind = "number"
	KindSelect SettingKind = "select"
)

// Setting is one addressable image setting derived from the camera's
// capability schema. Path segments are namespace-stripped tag names joined
// with "/" (e.g. Exposure/OverexposeSuppress/enabled) and identify the
// setting in both the capability schema and the settings document.
type Setting struct {
	Path         string        `json:"path"`
	Name         string        `json:"name"`
	Kind         SettingKind   `json:"kind"`
	Options      []string      `json:"options,omitempty"` // raw camera vocabulary, selects only
	Labels       []string      `json:"labels,omitempty"`  // parallel to Options
	Range        *SettingRange `json:"range,omitempty"`   // numbers only
	CurrentValue string        `json:"current_value"`

	// LinkedEnabledPath is set on selects that absorbed a sibling enabled
	// toggle (the merged enabled+mode pattern). OffValue is the raw option
	// meaning "disabled"; the mode element vanishes from the camera's
	// settings document while the feature is off.
	LinkedEnabledPath string `json:"linked_enabled_path,omitempty"`
	OffValue          string `json:"off_value,omitempty"`
}

// SettingRange holds inclusive device-declared bounds.
type SettingRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Linked reports whether this setting also controls a separate enabled flag.
func (s Setting) Linked() bool { return s.LinkedEnabledPath != "" }
