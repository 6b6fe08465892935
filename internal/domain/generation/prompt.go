package generation

import (
	"fmt"
	"strings"

	"github.com/maytees/homifyai-sub000/internal/llm"
	"github.com/maytees/homifyai-sub000/internal/types"
)

var systemPrompt = fmt.Sprintf(`
        You are an interior staging assistant for real-estate floor plans.
        The user supplies a reference image and a description of how the space should be staged.
        First decide whether the reference image is an architectural floor plan (a top-down drawing of rooms, walls, doors and windows).
        If it is not a floor plan, do not generate an image. Reply with exactly %s and nothing else.
        If it is a floor plan, return a single rendered image of the same layout staged as described.
        Keep every wall, door, window and room proportion from the reference. Do not add or remove rooms.
        Do not add text, labels, logos or watermarks to the image.
    `, llm.SentinelNotFloorPlan)

const defaultStagingRequest = "Stage this floor plan with tasteful, realistic furniture appropriate to each room."

// BuildUserPrompt returns the free-text prompt when present, otherwise composes one from the
// structured staging options.
func BuildUserPrompt(req types.GenerateRequest) string {
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return p
	}

	var parts []string
	if req.StagingStyle != "" {
		parts = append(parts, fmt.Sprintf("Use a %s staging style.", req.StagingStyle))
	}
	if req.FurnishingDensity != "" {
		parts = append(parts, fmt.Sprintf("Furnishing density should be %s.", req.FurnishingDensity))
	}
	if req.ColorTone != "" {
		parts = append(parts, fmt.Sprintf("Favour a %s colour palette.", req.ColorTone))
	}
	if req.Angle != "" {
		parts = append(parts, fmt.Sprintf("Render the result from a %s view.", req.Angle))
	}
	if req.AdditionalNotes != nil && strings.TrimSpace(*req.AdditionalNotes) != "" {
		parts = append(parts, "Additional notes: "+strings.TrimSpace(*req.AdditionalNotes))
	}

	if len(parts) == 0 {
		return defaultStagingRequest
	}
	return "Stage this floor plan. " + strings.Join(parts, " ")
}
