package tuners

import "strings"

// Pill is one toggle of the filter bar.
type Pill struct {
	Param    string `json:"param"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Pills returns the filter toggles with Selected reflecting query.
func Pills(query FilterQuery) []Pill {
	pills := make([]Pill, 0, len(SizeCategories)+4)
	size := strings.TrimSpace(query.Size)
	for _, candidate := range SizeCategories {
		pills = append(pills, Pill{Param: "size", Value: candidate, Selected: size == candidate})
	}
	pills = append(pills,
		Pill{Param: "raw", Value: "true", Selected: query.Raw},
		Pill{Param: "imgprompt", Value: "true", Selected: query.ImgPrompt},
		Pill{Param: "niji", Value: "true", Selected: query.Niji},
		Pill{Param: "likedbyme", Value: "true", Selected: query.LikedByMe},
	)
	return pills
}
