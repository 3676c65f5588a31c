package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
)

// PreviewOptions control the PNG returned to clients for a document image.
type PreviewOptions struct {
	MaxWidth  int
	MaxHeight int
	// Colors > 0 palettizes the image with Floyd-Steinberg dithering.
	Colors      int
	Compression png.CompressionLevel
}

var DefaultPreviewOptions = PreviewOptions{
	MaxWidth:    1024,
	MaxHeight:   1024,
	Compression: png.BestSpeed,
}

// EncodePNG encodes img losslessly, used to hand normalized regions to
// recognizers that accept encoded images only.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// PreviewBase64 downscales img to fit the options and returns it as a
// base64 encoded PNG.
func PreviewBase64(img image.Image, opts PreviewOptions) (string, error) {
	out := fitWithin(img, opts.MaxWidth, opts.MaxHeight)

	if opts.Colors > 0 {
		pal := palette.Plan9
		if opts.Colors <= 216 {
			pal = palette.WebSafe
		}
		dst := image.NewPaletted(out.Bounds(), pal)
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), out, out.Bounds().Min)
		out = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: opts.Compression}
	if err := enc.Encode(&buf, out); err != nil {
		return "", fmt.Errorf("encoding PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fitWithin scales src down, keeping its aspect ratio, until it fits in
// maxW x maxH. A bound <= 0 is unconstrained. Images are never enlarged.
func fitWithin(src image.Image, maxW, maxH int) image.Image {
	bw, bh := src.Bounds().Dx(), src.Bounds().Dy()
	if bw == 0 || bh == 0 || (maxW <= 0 && maxH <= 0) {
		return src
	}

	scale := math.Inf(1)
	if maxW > 0 {
		scale = float64(maxW) / float64(bw)
	}
	if maxH > 0 {
		scale = math.Min(scale, float64(maxH)/float64(bh))
	}
	if scale >= 1 {
		return src
	}

	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
