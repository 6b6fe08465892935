package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func responseWithParts(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts, Role: "model"}}},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseImageResponse(t *testing.T) {
	t.Run("image", func(t *testing.T) {
		resp := responseWithParts(
			genai.NewPartFromText("Here is your staged floor plan."),
			genai.NewPartFromBytes([]byte{0x89, 'P', 'N', 'G'}, "image/png"),
		)
		result, err := ParseImageResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, "image/png", result.MediaType)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, result.Data)
	})

	t.Run("sentinel without image", func(t *testing.T) {
		_, err := ParseImageResponse(responseWithParts(genai.NewPartFromText("ERROR:NOT_FLOOR_PLAN")))
		assert.ErrorIs(t, err, ErrNotFloorPlan)
	})

	t.Run("sentinel wins over image", func(t *testing.T) {
		resp := responseWithParts(
			genai.NewPartFromText("error:not_floor_plan - this looks like a photo of a cat"),
			genai.NewPartFromBytes([]byte("img"), "image/png"),
		)
		_, err := ParseImageResponse(resp)
		assert.ErrorIs(t, err, ErrNotFloorPlan)
	})

	t.Run("no image", func(t *testing.T) {
		_, err := ParseImageResponse(responseWithParts(genai.NewPartFromText("I cannot help with that.")))
		assert.ErrorIs(t, err, ErrNoImage)
		assert.NotErrorIs(t, err, ErrNotFloorPlan)
	})

	t.Run("nil response", func(t *testing.T) {
		_, err := ParseImageResponse(nil)
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("defaults media type", func(t *testing.T) {
		part := &genai.Part{InlineData: &genai.Blob{Data: []byte("img")}}
		result, err := ParseImageResponse(responseWithParts(part))
		require.NoError(t, err)
		assert.Equal(t, "image/png", result.MediaType)
	})
}

func TestContainsNotFloorPlanSentinel(t *testing.T) {
	assert.True(t, ContainsNotFloorPlanSentinel("ERROR:NOT_FLOOR_PLAN"))
	assert.True(t, ContainsNotFloorPlanSentinel("Sorry. ERROR: NOT_FLOOR_PLAN"))
	assert.False(t, ContainsNotFloorPlanSentinel("floor plan staged successfully"))
	assert.False(t, ContainsNotFloorPlanSentinel(""))
}

func TestGeminiImageClient_GenerateImage(t *testing.T) {
	gen := &fakeGenerator{resp: responseWithParts(genai.NewPartFromBytes([]byte("out"), "image/png"))}
	client := newGeminiImageClient(gen, "gemini-2.5-flash-image", testLogger())

	result, err := client.GenerateImage(context.Background(), ImageRequest{
		SystemPrompt:       "system",
		UserPrompt:         "modern furniture",
		Reference:          []byte("ref"),
		ReferenceMediaType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), result.Data)

	assert.Equal(t, "gemini-2.5-flash-image", gen.model)
	require.Len(t, gen.contents, 1)
	require.Len(t, gen.contents[0].Parts, 2)
	assert.Equal(t, "modern furniture", gen.contents[0].Parts[0].Text)
	assert.Equal(t, "image/jpeg", gen.contents[0].Parts[1].InlineData.MIMEType)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "system", gen.config.SystemInstruction.Parts[0].Text)
	assert.Contains(t, gen.config.ResponseModalities, "IMAGE")
}

func TestGeminiImageClient_GenerateImage_Errors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		client := newGeminiImageClient(&fakeGenerator{err: errors.New("503")}, "m", testLogger())
		_, err := client.GenerateImage(context.Background(), ImageRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFloorPlan)
	})

	t.Run("not a floor plan", func(t *testing.T) {
		gen := &fakeGenerator{resp: responseWithParts(genai.NewPartFromText(SentinelNotFloorPlan))}
		client := newGeminiImageClient(gen, "m", testLogger())
		_, err := client.GenerateImage(context.Background(), ImageRequest{UserPrompt: "x"})
		assert.ErrorIs(t, err, ErrNotFloorPlan)
	})
}
