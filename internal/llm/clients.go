package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	a "github.com/petar-dambovaliev/aho-corasick"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// SentinelNotFloorPlan is the token the model is instructed to emit instead of an image
// when the reference is not a floor plan.
const SentinelNotFloorPlan = "ERROR:NOT_FLOOR_PLAN"

var (
	// ErrNotFloorPlan is returned when the model rejected the reference image.
	ErrNotFloorPlan = errors.New("model reported the reference is not a floor plan")
	// ErrNoImage is returned when the response carries neither an image nor the sentinel.
	ErrNoImage = errors.New("model response contained no image")
)

var (
	sentinelBuilder = a.NewAhoCorasickBuilder(a.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
	})
	sentinelMatcher = sentinelBuilder.Build([]string{
		SentinelNotFloorPlan,
		"ERROR: NOT_FLOOR_PLAN",
	})
)

// ImageRequest is one image-to-image generation call.
type ImageRequest struct {
	SystemPrompt       string
	UserPrompt         string
	Reference          []byte
	ReferenceMediaType string
}

// ImageResult is a successful generation.
type ImageResult struct {
	Data      []byte
	MediaType string
	Text      string
}

// ImageClient abstracts the image model used by the generation orchestrator.
// Implementations return ErrNotFloorPlan when the model flags the input, never a bare sentinel string.
type ImageClient interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
	Model() string
}

// contentGenerator is the part of *genai.Models the adapter needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ ImageClient = (*GeminiImageClient)(nil)

// GeminiImageClient adapts the Gemini image model to the ImageClient interface.
type GeminiImageClient struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

// NewGeminiImageClient creates an ImageClient backed by Gemini.
func NewGeminiImageClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiImageClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiImageClient(client.Models, model, logger), nil
}

func newGeminiImageClient(models contentGenerator, model string, logger *slog.Logger) *GeminiImageClient {
	return &GeminiImageClient{models: models, model: model, logger: logger}
}

func (g *GeminiImageClient) Model() string {
	return g.model
}

// GenerateImage sends the system prompt, user prompt and reference image in a single request.
func (g *GeminiImageClient) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	ctx, span := otel.Tracer("GeminiImageClient").Start(ctx, "GenerateImage", trace.WithAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.reference_bytes", len(req.Reference)),
	))
	defer span.End()

	l := g.logger.With(slog.String("method", "GenerateImage"))

	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	if len(req.Reference) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Reference, req.ReferenceMediaType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		Temperature:        genai.Ptr[float32](0.4),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		l.ErrorContext(ctx, "Image model call failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, fmt.Errorf("image model call failed: %w", err)
	}

	result, err := ParseImageResponse(resp)
	if err != nil {
		if errors.Is(err, ErrNotFloorPlan) {
			l.InfoContext(ctx, "Model rejected reference image as not a floor plan")
			span.SetStatus(codes.Error, "not a floor plan")
			return nil, err
		}
		l.WarnContext(ctx, "Image model returned no usable image", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no image")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("llm.output_media_type", result.MediaType),
		attribute.Int("llm.output_bytes", len(result.Data)),
	)
	span.SetStatus(codes.Ok, "image generated")
	return result, nil
}

// ParseImageResponse reduces a model response to an image, ErrNotFloorPlan or ErrNoImage.
// The sentinel takes precedence over any image in the same response.
func ParseImageResponse(resp *genai.GenerateContentResponse) (*ImageResult, error) {
	if resp == nil {
		return nil, ErrNoImage
	}

	var text strings.Builder
	var image *genai.Blob
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if image == nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				image = part.InlineData
			}
		}
	}

	if ContainsNotFloorPlanSentinel(text.String()) {
		return nil, ErrNotFloorPlan
	}
	if image == nil {
		if snippet := strings.TrimSpace(text.String()); snippet != "" {
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			return nil, fmt.Errorf("%w: %s", ErrNoImage, snippet)
		}
		return nil, ErrNoImage
	}

	mediaType := image.MIMEType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return &ImageResult{Data: image.Data, MediaType: mediaType, Text: text.String()}, nil
}

// ContainsNotFloorPlanSentinel reports whether text carries the rejection token.
func ContainsNotFloorPlanSentinel(text string) bool {
	if text == "" {
		return false
	}
	return sentinelMatcher.Iter(text).Next() != nil
}
