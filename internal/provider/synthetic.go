package provider

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"github.com/zerverless/studio/internal/imagedata"
)

// BlockMarker in a prompt makes the synthetic provider refuse the request the
// way a content policy would, so the failure path can be exercised locally.
const BlockMarker = "[blocked]"

const syntheticBase = 256

// Synthetic renders deterministic gradient PNGs without any network calls.
// It keeps the whole queue exercisable in development and tests.
type Synthetic struct {
	Delay time.Duration
}

func NewSynthetic(delay time.Duration) *Synthetic {
	return &Synthetic{Delay: delay}
}

func (s *Synthetic) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(req.Prompt), BlockMarker) {
		return "", Blocked("SAFETY")
	}

	w, h := ratioSize(req.AspectRatio)
	seed := fnv.New64a()
	seed.Write([]byte(req.Prompt))
	for _, ref := range req.ReferenceImages {
		seed.Write([]byte(ref))
	}
	img := gradient(w, h, seed.Sum64())

	return encodePNG(img)
}

// Upscale doubles the resolution with nearest-neighbour sampling.
func (s *Synthetic) Upscale(ctx context.Context, src string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	_, data, err := imagedata.Decode(src)
	if err != nil {
		return "", Failed("upscale source: %v", err)
	}
	in, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", Failed("decode upscale source: %v", err)
	}

	b := in.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
	for y := 0; y < b.Dy()*2; y++ {
		for x := 0; x < b.Dx()*2; x++ {
			out.Set(x, y, in.At(b.Min.X+x/2, b.Min.Y+y/2))
		}
	}
	return encodePNG(out)
}

func (s *Synthetic) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return Failed("generation interrupted: %v", ctx.Err())
	}
}

func ratioSize(ratio string) (int, int) {
	switch ratio {
	case "16:9":
		return syntheticBase * 16 / 9, syntheticBase
	case "9:16":
		return syntheticBase, syntheticBase * 16 / 9
	case "4:3":
		return syntheticBase * 4 / 3, syntheticBase
	case "3:4":
		return syntheticBase, syntheticBase * 4 / 3
	default:
		return syntheticBase, syntheticBase
	}
}

func gradient(w, h int, seed uint64) *image.RGBA {
	from := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 0xff}
	to := color.RGBA{R: uint8(seed >> 24), G: uint8(seed >> 32), B: uint8(seed >> 40), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t := float64(y) / float64(max(h-1, 1))
		c := color.RGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 0xff,
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", Failed("encode png: %v", err)
	}
	return imagedata.Encode("image/png", buf.Bytes()), nil
}

var _ Provider = (*Synthetic)(nil)
