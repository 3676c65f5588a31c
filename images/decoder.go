package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"pault.ag/go/cbeff/jpeg2000"
)

var ErrUnsupportedFormat = errors.New("unsupported or invalid image format")

type CaptureFormat int

const (
	FormatUnknown CaptureFormat = iota
	FormatJPEG
	FormatPNG
	FormatJPEG2000
	FormatHEIC
	FormatPDF
)

func (f CaptureFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatJPEG2000:
		return "jpeg2000"
	case FormatHEIC:
		return "heic"
	case FormatPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

var (
	jpegMagic     = []byte{0xFF, 0xD8, 0xFF}
	pngMagic      = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	jp2Magic      = []byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' '}
	j2kMagic      = []byte{0xFF, 0x4F, 0xFF, 0x51}
	pdfMagic      = []byte("%PDF-")
	heicBrands    = []string{"heic", "heix", "heif", "mif1", "msf1"}
	contentFormat = map[string]CaptureFormat{
		"image/jpeg":      FormatJPEG,
		"image/png":       FormatPNG,
		"image/jp2":       FormatJPEG2000,
		"image/jpx":       FormatJPEG2000,
		"image/heic":      FormatHEIC,
		"image/heif":      FormatHEIC,
		"application/pdf": FormatPDF,
	}
)

// SniffFormat identifies a capture by its leading bytes, falling back to
// the declared content type.
func SniffFormat(data []byte, contentType string) CaptureFormat {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	case bytes.HasPrefix(data, jp2Magic), bytes.HasPrefix(data, j2kMagic):
		return FormatJPEG2000
	case bytes.HasPrefix(data, pdfMagic):
		return FormatPDF
	case isHEIC(data):
		return FormatHEIC
	}
	mediaType, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), ";")
	return contentFormat[strings.TrimSpace(mediaType)]
}

// isHEIC looks for an ftyp box with one of the HEIF brands.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	for _, b := range heicBrands {
		if brand == b {
			return true
		}
	}
	return false
}

// DecodeCapture turns an uploaded capture into an image. PDFs are rendered
// from their first page.
func DecodeCapture(data []byte, contentType string) (image.Image, CaptureFormat, error) {
	if len(data) == 0 {
		return nil, FormatUnknown, fmt.Errorf("%w: empty capture", ErrUnsupportedFormat)
	}

	format := SniffFormat(data, contentType)
	var (
		img image.Image
		err error
	)
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case FormatJPEG2000:
		img, err = jpeg2000.Parse(data)
	case FormatHEIC:
		img, err = heic.Decode(bytes.NewReader(data))
	case FormatPDF:
		img, err = renderFirstPage(data)
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, format, fmt.Errorf("%w: decoding %s: %v", ErrUnsupportedFormat, format, err)
	}
	return img, format, nil
}

func renderFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, errors.New("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}
