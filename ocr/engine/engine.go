// Package engine assembles the configured recognizers into one chain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go-mrz-scanner/ocr"
	"go-mrz-scanner/ocr/gemini"
	"go-mrz-scanner/ocr/tesseract"
	"go-mrz-scanner/ocr/vision"
)

const (
	Tesseract = "tesseract"
	Vision    = "vision"
	Gemini    = "gemini"
)

type Config struct {
	// Engines are tried in order until one returns text.
	Engines []string `json:"engines"`
	// UseLocator narrows frames to the MRZ with Tesseract text line boxes.
	UseLocator bool             `json:"use_locator,omitempty"`
	Tesseract  tesseract.Config `json:"tesseract"`
	Vision     vision.Config    `json:"vision"`
	Gemini     gemini.Config    `json:"gemini"`
}

// Engine is a ready to use recognizer chain. Close releases the clients of
// remote engines.
type Engine struct {
	Recognizer ocr.Recognizer
	Locator    ocr.Locator
	closers    []io.Closer
}

func New(ctx context.Context, config Config) (*Engine, error) {
	engines := config.Engines
	if len(engines) == 0 {
		engines = []string{Tesseract}
	}

	e := &Engine{}
	var chain []ocr.Recognizer
	for _, name := range engines {
		switch name {
		case Tesseract:
			chain = append(chain, tesseract.New(config.Tesseract))
		case Vision:
			r, err := vision.New(ctx, config.Vision)
			if err != nil {
				_ = e.Close()
				return nil, err
			}
			e.closers = append(e.closers, r)
			chain = append(chain, r)
		case Gemini:
			r, err := gemini.New(ctx, config.Gemini)
			if err != nil {
				_ = e.Close()
				return nil, err
			}
			e.closers = append(e.closers, r)
			chain = append(chain, r)
		default:
			_ = e.Close()
			return nil, fmt.Errorf("%v is not a valid recognizer", name)
		}
		slog.Info("Using recognizer", "engine", name)
	}

	if len(chain) == 1 {
		e.Recognizer = chain[0]
	} else {
		e.Recognizer = ocr.Chain(chain...)
	}
	if config.UseLocator {
		e.Locator = tesseract.New(config.Tesseract)
	}
	return e, nil
}

func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
