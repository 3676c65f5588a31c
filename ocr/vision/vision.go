// Package vision recognizes MRZ text with the Google Cloud Vision document
// text detection.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"go-mrz-scanner/images"
	"go-mrz-scanner/ocr"

	vision "cloud.google.com/go/vision/apiv1"
	"google.golang.org/api/option"
)

type Config struct {
	CredentialsFile string `json:"credentials_file,omitempty"`
}

type detectFunc func(ctx context.Context, png []byte) (string, error)

type Recognizer struct {
	detect detectFunc
	closer io.Closer
}

var _ ocr.Recognizer = (*Recognizer)(nil)

// New creates a Vision client. Without a credentials file the application
// default credentials are used.
func New(ctx context.Context, config Config) (*Recognizer, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	detect := func(ctx context.Context, data []byte) (string, error) {
		img, err := vision.NewImageFromReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("creating vision image: %w", err)
		}
		annotation, err := client.DetectDocumentText(ctx, img, nil)
		if err != nil {
			return "", fmt.Errorf("detecting document text: %w", err)
		}
		if annotation == nil {
			return "", nil
		}
		return annotation.Text, nil
	}
	return &Recognizer{detect: detect, closer: client}, nil
}

func (r *Recognizer) Name() string { return "vision" }

func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	data, err := images.EncodePNG(img)
	if err != nil {
		return "", err
	}
	text, err := r.detect(ctx, data)
	if err != nil {
		return "", err
	}
	text = ocr.Sanitize(text)
	if strings.TrimSpace(text) == "" {
		return "", ocr.ErrNoText
	}
	return text, nil
}

func (r *Recognizer) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
