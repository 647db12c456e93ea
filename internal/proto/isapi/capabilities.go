package isapi

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/JoshADC/hikvision-isapi/internal/model"
)

// The capability schema is self-describing:
//
//	opt="a,b,c"        → select
//	opt="true,false"   → toggle
//	min="0" max="100"  → number
//	opt="manual"       → single-option select, still emitted so discovery
//	                     output is complete; consumers decide whether to
//	                     hide single-choice controls
//
// Element text carries the schema-embedded default value.

// ParseCapabilities walks the capability schema and produces one setting
// descriptor per user-controllable leaf. When a current-values document is
// supplied, descriptors carry live values instead of schema defaults.
func ParseCapabilities(schema, current *Document) []model.Setting {
	var settings []model.Setting
	walkCapabilities(schema.tree.Root(), "", &settings)

	if current != nil {
		values := FlattenValues(current)
		for i := range settings {
			if v, ok := values[settings[i].Path]; ok {
				settings[i].CurrentValue = v
			}
		}
	}

	return mergeEnabledMode(settings)
}

func walkCapabilities(el *etree.Element, parentPath string, out *[]model.Setting) {
	for _, child := range el.ChildElements() {
		path := child.Tag
		if parentPath != "" {
			path = parentPath + "/" + child.Tag
		}
		if _, skip := skipPaths[path]; skip {
			continue
		}

		def := strings.TrimSpace(child.Text())
		if opt := child.SelectAttr("opt"); opt != nil {
			options := splitOptions(opt.Value)
			if isToggleOptions(options) {
				*out = append(*out, model.Setting{
					Path:         path,
					Name:         displayName(path),
					Kind:         model.KindToggle,
					CurrentValue: def,
				})
			} else if len(options) > 0 {
				labels := make([]string, len(options))
				for i, o := range options {
					labels[i] = valueLabel(o)
				}
				*out = append(*out, model.Setting{
					Path:         path,
					Name:         displayName(path),
					Kind:         model.KindSelect,
					Options:      options,
					Labels:       labels,
					CurrentValue: def,
				})
			}
		} else if minAttr, maxAttr := child.SelectAttr("min"), child.SelectAttr("max"); minAttr != nil && maxAttr != nil {
			min, errMin := strconv.ParseFloat(minAttr.Value, 64)
			max, errMax := strconv.ParseFloat(maxAttr.Value, 64)
			if errMin == nil && errMax == nil {
				*out = append(*out, model.Setting{
					Path:         path,
					Name:         displayName(path),
					Kind:         model.KindNumber,
					Range:        &model.SettingRange{Min: min, Max: max},
					CurrentValue: def,
				})
			}
		}

		// Recurse regardless of whether this node produced a descriptor;
		// settings nest arbitrarily deep.
		if len(child.ChildElements()) > 0 {
			walkCapabilities(child, path, out)
		}
	}
}

func splitOptions(opt string) []string {
	parts := strings.Split(opt, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isToggleOptions(options []string) bool {
	if len(options) != 2 {
		return false
	}
	seen := map[string]bool{}
	for _, o := range options {
		seen[strings.ToLower(o)] = true
	}
	return seen["true"] && seen["false"]
}

// offToken returns the first option meaning "feature off", if any. The
// cameras spell it "close" in lower- or upper-case depending on the group.
func offToken(options []string) (string, bool) {
	for _, o := range options {
		if strings.EqualFold(o, "close") {
			return o, true
		}
	}
	return "", false
}

// mergeEnabledMode collapses the enabled+mode pattern: a parent carrying
// both an `enabled` toggle and a mode select with an off option (BLC is the
// canonical case) is one logical control, and the camera physically drops
// the mode element while the feature is off. The toggle is absorbed into
// the select.
//
// This is a shape match, not a schema-declared relationship: an unrelated
// toggle+select sibling pair of the same shape would merge too. Known
// trade-off, kept deliberately.
func mergeEnabledMode(settings []model.Setting) []model.Setting {
	togglesByParent := map[string]int{}
	selectsByParent := map[string]int{}
	offByParent := map[string]string{}

	for i, s := range settings {
		cut := strings.LastIndex(s.Path, "/")
		if cut < 0 {
			continue
		}
		parent, leaf := s.Path[:cut], s.Path[cut+1:]
		switch {
		case s.Kind == model.KindToggle && leaf == "enabled":
			togglesByParent[parent] = i
		case s.Kind == model.KindSelect:
			if off, ok := offToken(s.Options); ok {
				selectsByParent[parent] = i
				offByParent[parent] = off
			}
		}
	}

	absorbed := map[int]struct{}{}
	for parent, ti := range togglesByParent {
		si, ok := selectsByParent[parent]
		if !ok {
			continue
		}
		sel := &settings[si]
		sel.LinkedEnabledPath = settings[ti].Path
		sel.OffValue = offByParent[parent]
		// While disabled the mode element is absent from the settings
		// document, so whatever value the select carries is stale.
		if !strings.EqualFold(settings[ti].CurrentValue, "true") {
			sel.CurrentValue = sel.OffValue
		}
		absorbed[ti] = struct{}{}
	}
	if len(absorbed) == 0 {
		return settings
	}

	out := make([]model.Setting, 0, len(settings)-len(absorbed))
	for i, s := range settings {
		if _, gone := absorbed[i]; !gone {
			out = append(out, s)
		}
	}
	return out
}

// FlattenValues flattens a current-values document into a path → text map
// covering every leaf element that carries text.
func FlattenValues(doc *Document) map[string]string {
	values := map[string]string{}
	flattenInto(doc.tree.Root(), "", values)
	return values
}

func flattenInto(el *etree.Element, parentPath string, out map[string]string) {
	for _, child := range el.ChildElements() {
		path := child.Tag
		if parentPath != "" {
			path = parentPath + "/" + child.Tag
		}
		if len(child.ChildElements()) == 0 {
			if text := strings.TrimSpace(child.Text()); text != "" {
				out[path] = text
			}
			continue
		}
		flattenInto(child, path, out)
	}
}
