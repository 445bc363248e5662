package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/zerverless/studio/internal/imagedata"
)

const upscaleInstruction = "Upscale this image to a higher resolution. Preserve the content, composition, " +
	"colors and style exactly; only add detail and sharpness."

type GeminiOptions struct {
	APIKey            string
	ImageModel        string // text-to-image
	EditModel         string // reference-conditioned generation and upscale
	RequestsPerMinute int    // 0 disables throttling
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// Gemini generates images through the Gemini API. Prompts without reference
// images go to the Imagen text-to-image endpoint, which honors the aspect
// ratio. Prompts with references go through the multimodal edit model, which
// may ignore the requested ratio.
type Gemini struct {
	client     *genai.Client
	imageModel string
	editModel  string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Gemini{
		client:     client,
		imageModel: opts.ImageModel,
		editModel:  opts.EditModel,
		limiter:    limiter,
		logger:     opts.Logger.With().Str("component", "gemini").Logger(),
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", Failed("rate limit wait: %v", err)
	}
	if len(req.ReferenceImages) == 0 {
		return g.textToImage(ctx, req)
	}
	return g.imageToImage(ctx, req)
}

func (g *Gemini) textToImage(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    req.AspectRatio,
	})
	if err != nil {
		return "", Failed("image generation failed: %v", err)
	}
	return imageFromGenerated(resp)
}

func (g *Gemini) imageToImage(ctx context.Context, req GenerateRequest) (string, error) {
	refs := req.ReferenceImages
	if len(refs) > MaxReferenceImages {
		g.logger.Warn().
			Int("given", len(refs)).
			Int("honored", MaxReferenceImages).
			Msg("more reference images than the model accepts")
		refs = refs[:MaxReferenceImages]
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for i, ref := range refs {
		mimeType, data, err := imagedata.Decode(ref)
		if err != nil {
			return "", Failed("reference image %d: %v", i+1, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}

	return g.generateContent(ctx, parts)
}

func (g *Gemini) Upscale(ctx context.Context, image string) (string, error) {
	mimeType, data, err := imagedata.Decode(image)
	if err != nil {
		return "", Failed("upscale source: %v", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", Failed("rate limit wait: %v", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(upscaleInstruction),
	}
	return g.generateContent(ctx, parts)
}

func (g *Gemini) generateContent(ctx context.Context, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.editModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return "", Failed("image generation failed: %v", err)
	}
	return imageFromContent(resp)
}

func imageFromGenerated(resp *genai.GenerateImagesResponse) (string, error) {
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return "", Failed("no image returned by model")
	}
	for _, gen := range resp.GeneratedImages {
		if gen == nil {
			continue
		}
		if gen.Image != nil && len(gen.Image.ImageBytes) > 0 {
			return imagedata.Encode(gen.Image.MIMEType, gen.Image.ImageBytes), nil
		}
		if gen.RAIFilteredReason != "" {
			return "", Blocked(gen.RAIFilteredReason)
		}
	}
	return "", Failed("no image returned by model")
}

func imageFromContent(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", Failed("no image returned by model")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", Blocked(string(fb.BlockReason))
	}

	var text strings.Builder
	var finish string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					return imagedata.Encode(part.InlineData.MIMEType, part.InlineData.Data), nil
				}
				text.WriteString(part.Text)
			}
		}
		if cand.FinishReason != "" && finish == "" {
			finish = string(cand.FinishReason)
		}
	}

	if isPolicyFinish(finish) {
		return "", Blocked(finish)
	}
	if s := strings.TrimSpace(text.String()); s != "" {
		return "", Failed("no image returned by model: %s", s)
	}
	return "", Failed("no image returned by model")
}

func isPolicyFinish(reason string) bool {
	switch {
	case reason == "":
		return false
	case strings.Contains(reason, "SAFETY"),
		reason == "PROHIBITED_CONTENT",
		reason == "BLOCKLIST",
		reason == "SPII",
		reason == "RECITATION":
		return true
	}
	return false
}

var _ Provider = (*Gemini)(nil)
