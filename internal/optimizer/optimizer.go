// Package optimizer keeps captured screenshots under the payload budget the
// inference API will accept.
package optimizer

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/model"
	"golang.org/x/image/draw"
)

const (
	minQuality        = 50
	aggressiveQuality = 40
	// One more pass with a smaller box when the first result is still >1.5x
	// over budget.
	overshootFactor       = 1.5
	aggressiveBoundWidth  = 1024
	aggressiveBoundHeight = 768
)

type Optimizer struct {
	cfg *config.ImageConfig
	log *slog.Logger
}

func NewOptimizer(cfg *config.ImageConfig, log *slog.Logger) *Optimizer {
	return &Optimizer{cfg: cfg, log: log}
}

// Optimize never fails the pipeline because of size. Buffers already under
// budget pass through byte-identical; oversized ones are re-encoded at
// reduced quality and, when needed, downscaled. If even the aggressive pass
// cannot get under budget, the best attempt is returned with Degraded set and
// the downstream inference call decides whether to reject it.
func (o *Optimizer) Optimize(raw []byte) *model.OptimizedImage {
	if len(raw) <= o.cfg.MaxBytes {
		return &model.OptimizedImage{Bytes: raw, ByteSize: len(raw), Quality: o.cfg.BaseQuality}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		o.log.Warn("oversized image could not be decoded, passing through.",
			slog.Int("bytes", len(raw)), slog.String("err", err.Error()))
		return &model.OptimizedImage{Bytes: raw, ByteSize: len(raw), Degraded: true}
	}

	// Quality proportional to how far over budget we are.
	quality := o.cfg.BaseQuality * o.cfg.MaxBytes / len(raw)
	if quality < minQuality {
		quality = minQuality
	}

	scaled, resized := scaleToFit(img, o.cfg.BoundWidth, o.cfg.BoundHeight)
	encoded, err := encodeJpeg(scaled, quality)
	if err != nil {
		o.log.Warn("re-encode failed, passing original through.", slog.String("err", err.Error()))
		return &model.OptimizedImage{Bytes: raw, ByteSize: len(raw), Degraded: true}
	}

	if len(encoded) > int(float64(o.cfg.MaxBytes)*overshootFactor) {
		smaller, _ := scaleToFit(img, aggressiveBoundWidth, aggressiveBoundHeight)
		aggressive, aggErr := encodeJpeg(smaller, aggressiveQuality)
		if aggErr == nil && len(aggressive) < len(encoded) {
			encoded = aggressive
			quality = aggressiveQuality
			resized = true
		}
	}

	result := &model.OptimizedImage{
		Bytes:    encoded,
		ByteSize: len(encoded),
		Quality:  quality,
		Resized:  resized,
		Degraded: len(encoded) > o.cfg.MaxBytes,
	}
	if result.Degraded {
		o.log.Warn("image still over budget after optimization.",
			slog.Int("bytes", result.ByteSize), slog.Int("max", o.cfg.MaxBytes))
	} else {
		o.log.Debug("image optimized.", slog.Int("from", len(raw)),
			slog.Int("to", result.ByteSize), slog.Int("quality", quality))
	}

	return result
}

// scaleToFit shrinks img into the bounding box, preserving aspect ratio.
// Images already inside the box are returned as-is; upscaling never happens.
func scaleToFit(img image.Image, boundW, boundH int) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= boundW && h <= boundH {
		return img, false
	}

	ratioW := float64(boundW) / float64(w)
	ratioH := float64(boundH) / float64(h)
	ratio := ratioW
	if ratioH < ratio {
		ratio = ratioH
	}
	newW := int(float64(w) * ratio)
	newH := int(float64(h) * ratio)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	return dst, true
}

func encodeJpeg(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
