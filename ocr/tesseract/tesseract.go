package tesseract

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go-mrz-scanner/images"
	"go-mrz-scanner/ocr"

	"github.com/otiai10/gosseract/v2"
)

// DefaultLanguage is the OCR-B traineddata, the font MRZs are printed in.
const DefaultLanguage = "ocrb"

type Config struct {
	Language       string `json:"language"`
	TessdataPrefix string `json:"tessdata_prefix,omitempty"`
	PageSegMode    int    `json:"page_seg_mode,omitempty"`
}

// client is the subset of *gosseract.Client in use.
type client interface {
	SetTessdataPrefix(prefix string) error
	SetLanguage(langs ...string) error
	SetWhitelist(whitelist string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	SetVariable(key gosseract.SettableVariable, value string) error
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// Engine runs Tesseract restricted to the MRZ alphabet. A fresh client is
// created per call, so an Engine is safe for concurrent use.
type Engine struct {
	config        Config
	clientFactory func() client
}

var (
	_ ocr.Recognizer = (*Engine)(nil)
	_ ocr.Locator    = (*Engine)(nil)
)

func New(config Config) *Engine {
	if config.Language == "" {
		config.Language = DefaultLanguage
	}
	if config.PageSegMode == 0 {
		config.PageSegMode = int(gosseract.PSM_SINGLE_BLOCK)
	}
	return &Engine{
		config:        config,
		clientFactory: func() client { return gosseract.NewClient() },
	}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) newClient(img image.Image) (client, error) {
	data, err := images.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	c := e.clientFactory()
	if e.config.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.config.TessdataPrefix); err != nil {
			c.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.config.Language); err != nil {
		c.Close()
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		c.Close()
		return nil, fmt.Errorf("set image: %w", err)
	}
	return c, nil
}

// Recognize returns the text of img, one line per MRZ line.
func (e *Engine) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := e.newClient(img)
	if err != nil {
		return "", err
	}
	defer c.Close()

	if err := c.SetWhitelist(ocr.Alphabet); err != nil {
		return "", fmt.Errorf("set whitelist: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(e.config.PageSegMode)); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	// MRZ lines are not words, dictionaries only hurt
	for _, v := range []string{"load_system_dawg", "load_freq_dawg"} {
		if err := c.SetVariable(gosseract.SettableVariable(v), "F"); err != nil {
			return "", fmt.Errorf("set variable %s: %w", v, err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ocr.ErrNoText
	}
	return text, nil
}

// LocateLines returns the text line boxes Tesseract finds in img.
func (e *Engine) LocateLines(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := e.newClient(img)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("get text lines: %w", err)
	}
	offset := img.Bounds().Min
	lines := make([]image.Rectangle, 0, len(boxes))
	for _, b := range boxes {
		lines = append(lines, b.Box.Add(offset))
	}
	return lines, nil
}
