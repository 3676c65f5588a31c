package images

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

var ErrInvalidRegion = errors.New("image region has zero area")

// UpscaleFactor is applied between exposure adjustment and binarization.
const UpscaleFactor = 2

// NormalizeParams are derived from the mean luminance of a region only.
type NormalizeParams struct {
	Luminance float64 `json:"luminance"`
	Exposure  float64 `json:"exposure"`
	Threshold float64 `json:"threshold"`
}

// ParamsForLuminance computes the exposure adjustment (in EV) and the
// binarization threshold for a region of mean luminance l in [0, 1].
func ParamsForLuminance(l float64) NormalizeParams {
	exposure := 0.5
	if l > 0.8 {
		exposure -= (l - 0.5) * 2
	}
	if l < 0.35 {
		exposure += math.Pow(2, 0.5-l)
	}
	return NormalizeParams{
		Luminance: l,
		Exposure:  exposure,
		Threshold: 1 - math.Pow(1-l, 0.2),
	}
}

// luminance uses the Rec. 709 weights on 8-bit channels.
func luminance(c color.NRGBA) float64 {
	return (0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)) / 255
}

func AverageLuminance(img image.Image) (float64, error) {
	b := img.Bounds()
	if b.Empty() {
		return 0, ErrInvalidRegion
	}
	var r, g, bl float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			r += float64(c.R)
			g += float64(c.G)
			bl += float64(c.B)
		}
	}
	n := float64(b.Dx() * b.Dy())
	mean := color.NRGBA{
		R: uint8(math.Round(r / n)),
		G: uint8(math.Round(g / n)),
		B: uint8(math.Round(bl / n)),
		A: 0xff,
	}
	return luminance(mean), nil
}

// Normalize prepares an MRZ region for OCR: exposure adjustment, Lanczos
// upscaling and a luminance threshold. The output is black text on white.
func Normalize(img image.Image) (*image.Gray, NormalizeParams, error) {
	l, err := AverageLuminance(img)
	if err != nil {
		return nil, NormalizeParams{}, err
	}
	params := ParamsForLuminance(l)

	gain := math.Pow(2, params.Exposure)
	exposed := imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: scaleChannel(c.R, gain),
			G: scaleChannel(c.G, gain),
			B: scaleChannel(c.B, gain),
			A: c.A,
		}
	})

	b := exposed.Bounds()
	scaled := imaging.Resize(exposed, b.Dx()*UpscaleFactor, b.Dy()*UpscaleFactor, imaging.Lanczos)

	sb := scaled.Bounds()
	out := image.NewGray(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			if luminance(scaled.NRGBAAt(sb.Min.X+x, sb.Min.Y+y)) > params.Threshold {
				out.SetGray(x, y, color.Gray{Y: 0xff})
			}
		}
	}
	return out, params, nil
}

func scaleChannel(v uint8, gain float64) uint8 {
	return uint8(math.Min(255, math.Round(float64(v)*gain)))
}
