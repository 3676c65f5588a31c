package images

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// minLineWidth is the fraction of the image width a text line must span
	// to be considered part of the MRZ.
	minLineWidth = 0.8
	// maxRegionHeight rejects unions that picked up body text.
	maxRegionHeight = 0.5
	// documentMargin enlarges the delivered document crop, relative to its height.
	documentMargin = 0.05
	// mrzBand is the lower part of a document cutout that holds the MRZ.
	mrzBand = 0.4
)

// LocateMRZRegion unions the text line boxes that span most of the image
// width. It returns false when no line qualifies or the union is too tall
// to be an MRZ.
func LocateMRZRegion(bounds image.Rectangle, lines []image.Rectangle) (image.Rectangle, bool) {
	minWidth := float64(bounds.Dx()) * minLineWidth
	var region image.Rectangle
	for _, l := range lines {
		if float64(l.Dx()) > minWidth {
			region = region.Union(l)
		}
	}
	if region.Empty() {
		return image.Rectangle{}, false
	}
	if float64(region.Dy()) > float64(bounds.Dy())*maxRegionHeight {
		return image.Rectangle{}, false
	}
	return region.Intersect(bounds), true
}

// LowerBand returns the bottom part of a document cutout where the MRZ is printed.
func LowerBand(cutout image.Rectangle) image.Rectangle {
	h := int(math.Round(float64(cutout.Dy()) * mrzBand))
	return image.Rect(cutout.Min.X, cutout.Max.Y-h, cutout.Max.X, cutout.Max.Y)
}

// Enlarge grows r on every side by a margin proportional to its height,
// clipped to bounds.
func Enlarge(r, bounds image.Rectangle) image.Rectangle {
	m := int(math.Round(float64(r.Dy()) * documentMargin))
	return r.Inset(-m).Intersect(bounds)
}

// Crop returns the part of img inside r with its origin at (0, 0).
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrInvalidRegion
	}
	return imaging.Crop(img, r), nil
}
