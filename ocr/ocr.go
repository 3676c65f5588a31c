// Package ocr defines the text recognition collaborators of the scanner.
// Implementations live in the sub packages.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrNoText is returned when a recognizer ran but produced no text.
var ErrNoText = errors.New("no text recognized")

// Alphabet is the MRZ character set.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"

// Recognizer turns a binarized MRZ image into text, one line per printed
// line.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Locator returns the bounding boxes of the text lines in img.
type Locator interface {
	LocateLines(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

type RecognizerFunc func(ctx context.Context, img image.Image) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// Chain tries each recognizer in order and returns the first non-empty text.
func Chain(recognizers ...Recognizer) Recognizer {
	return RecognizerFunc(func(ctx context.Context, img image.Image) (string, error) {
		var errs []error
		for i, r := range recognizers {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			text, err := r.Recognize(ctx, img)
			if err != nil {
				errs = append(errs, fmt.Errorf("recognizer %d: %w", i, err))
				continue
			}
			if strings.TrimSpace(text) != "" {
				return text, nil
			}
		}
		if len(errs) > 0 {
			return "", errors.Join(errs...)
		}
		return "", ErrNoText
	})
}

var guillemets = strings.NewReplacer("«", "<<", "‹", "<", "»", "", "›", "")

// Sanitize upper-cases text and drops everything outside the MRZ alphabet
// except line breaks. Guillemets, a common misread of runs of fillers, are
// turned back into fillers.
func Sanitize(text string) string {
	text = strings.ToUpper(guillemets.Replace(text))
	var b strings.Builder
	for _, r := range text {
		if r == '\n' || strings.ContainsRune(Alphabet, r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
