// Package optimize turns validated uploads into size variants. A capability
// probe picks the Rich strategy when an image engine works at startup and
// falls back to Passthrough otherwise.
package optimize

import (
	"strings"

	"github.com/Skryldev/image-ingest/core"
)

// Named optimization levels.
const (
	LevelFast     = "fast"
	LevelBalanced = "balanced"
	LevelQuality  = "quality"
)

var profiles = map[string]core.Profile{
	LevelFast: {
		Name:         LevelFast,
		Quality:      60,
		TargetFormat: core.FormatWebP,
		SizeSpecs: []core.SizeSpec{
			{MaxWidth: 300, Suffix: "thumb"},
			{MaxWidth: 800, Suffix: "medium"},
		},
	},
	LevelBalanced: {
		Name:         LevelBalanced,
		Quality:      80,
		TargetFormat: core.FormatWebP,
		SizeSpecs: []core.SizeSpec{
			{MaxWidth: 150, Suffix: "thumb"},
			{MaxWidth: 600, Suffix: "medium"},
			{MaxWidth: 1200, Suffix: "large"},
		},
	},
	LevelQuality: {
		Name:         LevelQuality,
		Quality:      90,
		TargetFormat: core.FormatWebP,
		SizeSpecs: []core.SizeSpec{
			{MaxWidth: 150, Suffix: "thumb"},
			{MaxWidth: 800, Suffix: "medium"},
			{MaxWidth: 1600, Suffix: "large"},
			{MaxWidth: 2400, Suffix: "xlarge"},
		},
	},
}

// ResolveProfile returns the profile for level. Unknown levels resolve to
// balanced with ok=false. The returned value is a private copy.
func ResolveProfile(level string) (core.Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		p = profiles[LevelBalanced]
	}
	p.SizeSpecs = append([]core.SizeSpec(nil), p.SizeSpecs...)
	return p, ok
}

// Levels lists the known level names.
func Levels() []string { return []string{LevelFast, LevelBalanced, LevelQuality} }
