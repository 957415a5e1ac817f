package schema

import "sort"

// Version describes one supported schema_version tag and the optional
// fields it admits.
type Version struct {
	Tag string `json:"schema_version"`
	// StepExtensions admits workflow step `uses` and `script`.
	StepExtensions bool `json:"step_extensions"`
	// ControlPointScripts admits control point `script`.
	ControlPointScripts bool `json:"control_point_scripts"`
}

// Versions is a closed set of schema versions.
type Versions struct {
	byTag map[string]Version
}

// NewVersions builds a set from the given versions. Later duplicates win.
func NewVersions(vs ...Version) *Versions {
	out := &Versions{byTag: make(map[string]Version, len(vs))}
	for _, v := range vs {
		out.byTag[v.Tag] = v
	}
	return out
}

var defaultVersions = NewVersions(
	Version{Tag: "2.0"},
	Version{Tag: "2.1", StepExtensions: true, ControlPointScripts: true},
)

// Default returns the versions this build understands.
func Default() *Versions { return defaultVersions }

func (v *Versions) Lookup(tag string) (Version, bool) {
	if v == nil {
		return Version{}, false
	}
	ver, ok := v.byTag[tag]
	return ver, ok
}

// Tags lists the supported tags in sorted order.
func (v *Versions) Tags() []string {
	if v == nil {
		return nil
	}
	out := make([]string, 0, len(v.byTag))
	for tag := range v.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
