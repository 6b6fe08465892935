package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maytees/homifyai-sub000/internal/llm"
	"github.com/maytees/homifyai-sub000/internal/types"
)

func TestBuildUserPrompt(t *testing.T) {
	notes := "  keep the piano  "

	assert.Equal(t, "modern loft", BuildUserPrompt(types.GenerateRequest{Prompt: " modern loft "}))
	assert.Equal(t, defaultStagingRequest, BuildUserPrompt(types.GenerateRequest{}))

	got := BuildUserPrompt(types.GenerateRequest{StagingOptions: types.StagingOptions{
		StagingStyle:      "scandinavian",
		FurnishingDensity: "minimal",
		ColorTone:         "warm",
		Angle:             "top-down",
		AdditionalNotes:   &notes,
	}})
	assert.Contains(t, got, "scandinavian staging style")
	assert.Contains(t, got, "minimal")
	assert.Contains(t, got, "warm colour palette")
	assert.Contains(t, got, "top-down view")
	assert.Contains(t, got, "Additional notes: keep the piano")
}

func TestSystemPromptCarriesSentinel(t *testing.T) {
	assert.Contains(t, systemPrompt, llm.SentinelNotFloorPlan)
}
