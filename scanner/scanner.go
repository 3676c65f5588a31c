package scanner

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"go-mrz-scanner/images"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/ocr"
)

// ScanResult is delivered to the caller once per successful scan.
type ScanResult struct {
	MRZ           *mrz.Result
	DocumentImage image.Image
}

// Scanner runs the single frame pipeline: region location, normalization,
// recognition, line selection and parsing. It holds no per-frame state.
type Scanner struct {
	recognizer ocr.Recognizer
	locator    ocr.Locator
	parser     *mrz.Parser
	cutout     image.Rectangle
	logger     *slog.Logger
}

type Option func(*Scanner)

// WithLocator narrows each frame to the MRZ lines found by l before
// normalization.
func WithLocator(l ocr.Locator) Option {
	return func(s *Scanner) { s.locator = l }
}

func WithParser(p *mrz.Parser) Option {
	return func(s *Scanner) { s.parser = p }
}

// WithCutout restricts scanning to the lower band of a document cutout in
// frame coordinates. The delivered document image is the cutout with a
// small margin.
func WithCutout(r image.Rectangle) Option {
	return func(s *Scanner) { s.cutout = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

func New(recognizer ocr.Recognizer, opts ...Option) *Scanner {
	s := &Scanner{
		recognizer: recognizer,
		parser:     mrz.NewParser(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScanFrame runs the pipeline on one frame. A frame without a readable MRZ
// yields (nil, nil); only an unusable region is an error. Results with
// failing check digits are returned, the caller decides what to keep.
func (s *Scanner) ScanFrame(ctx context.Context, frame image.Image) (*ScanResult, error) {
	region, document, err := s.analysisRegion(ctx, frame)
	if err != nil {
		return nil, err
	}

	normalized, params, err := images.Normalize(region)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Normalized MRZ region", "luminance", params.Luminance, "exposure", params.Exposure, "threshold", params.Threshold)

	text, err := s.recognizer.Recognize(ctx, normalized)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Debug("Recognition failed for frame", "error", err)
		return nil, nil
	}

	lines := mrz.SelectLines(text)
	if lines == nil {
		s.logger.Debug("No MRZ lines in recognized text")
		return nil, nil
	}
	result, err := s.parser.Parse(lines)
	if err != nil {
		s.logger.Debug("Recognized lines do not form an MRZ", "lines", len(lines), "error", err)
		return nil, nil
	}

	s.logger.Debug("Parsed MRZ", "format", result.Format, "valid", result.AllCheckDigitsValid)
	return &ScanResult{MRZ: result, DocumentImage: document}, nil
}

// analysisRegion picks the part of the frame handed to the normalizer and
// the image delivered as the document.
func (s *Scanner) analysisRegion(ctx context.Context, frame image.Image) (image.Image, image.Image, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, nil, images.ErrInvalidRegion
	}

	document := frame
	region := frame
	if !s.cutout.Empty() {
		var err error
		if document, err = images.Crop(frame, images.Enlarge(s.cutout, frame.Bounds())); err != nil {
			return nil, nil, err
		}
		if region, err = images.Crop(frame, images.LowerBand(s.cutout)); err != nil {
			return nil, nil, err
		}
	}

	if s.locator == nil {
		return region, document, nil
	}
	lines, err := s.locator.LocateLines(ctx, region)
	if err != nil {
		s.logger.Debug("Text line location failed, using the whole region", "error", err)
		return region, document, nil
	}
	mrzRect, ok := images.LocateMRZRegion(region.Bounds(), lines)
	if !ok {
		s.logger.Debug("No MRZ shaped text lines, using the whole region", "lines", len(lines))
		return region, document, nil
	}
	cropped, err := images.Crop(region, mrzRect)
	if err != nil {
		return nil, nil, err
	}
	return cropped, document, nil
}
