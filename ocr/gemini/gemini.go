// Package gemini transcribes MRZ images with a Gemini model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"go-mrz-scanner/images"
	"go-mrz-scanner/ocr"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

const transcribePrompt = `The image shows the machine readable zone of a travel document.
Transcribe it exactly, one printed line per output line.
Use only the characters A-Z, 0-9 and '<'. Count every filler '<'.
Do not add any other text.`

type Config struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

type Recognizer struct {
	generate generateFunc
	client   *genai.Client
}

var _ ocr.Recognizer = (*Recognizer)(nil)

func New(ctx context.Context, config Config) (*Recognizer, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	m := client.GenerativeModel(model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	return &Recognizer{generate: m.GenerateContent, client: client}, nil
}

func (r *Recognizer) Name() string { return "gemini" }

func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	data, err := images.EncodePNG(img)
	if err != nil {
		return "", err
	}
	resp, err := r.generate(ctx, genai.Text(transcribePrompt), genai.ImageData("png", data))
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	text := ocr.Sanitize(firstText(resp))
	if text == "" {
		return "", ocr.ErrNoText
	}
	return text, nil
}

func (r *Recognizer) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
