package tuners

import (
	"regexp"
	"strings"
)

const (
	rawStyleMarker = "--style raw"
	nijiMarker     = "--niji"
)

var imagePromptPattern = regexp.MustCompile(`(?i)(https://s\.mj\.run/|\.png|\.jpe?g|\.webp)`)

// FilterSpec narrows a listing. Every populated field must hold for a tuner to
// match; zero values place no constraint.
type FilterSpec struct {
	Keyword         string
	Size            string
	RawStyleOnly    bool
	NijiOnly        bool
	ImagePromptOnly bool
	// LikedRecordIDs restricts matches to these tuner ids. A nil set places no
	// constraint; a non-nil empty set matches nothing.
	LikedRecordIDs IDSet
}

// Matches reports whether tuner satisfies every constraint of spec.
func Matches(tuner Tuner, spec FilterSpec) bool {
	if keyword := strings.TrimSpace(spec.Keyword); keyword != "" {
		if !strings.Contains(strings.ToLower(tuner.Prompt), strings.ToLower(keyword)) {
			return false
		}
	}
	if spec.Size != "" && tuner.Size != spec.Size {
		return false
	}
	if spec.RawStyleOnly && !strings.Contains(tuner.Prompt, rawStyleMarker) {
		return false
	}
	if spec.NijiOnly && !strings.Contains(tuner.Prompt, nijiMarker) {
		return false
	}
	if spec.ImagePromptOnly && !imagePromptPattern.MatchString(tuner.Prompt) {
		return false
	}
	if spec.LikedRecordIDs != nil && !spec.LikedRecordIDs.Has(tuner.ID) {
		return false
	}
	return true
}
