package gemini

import (
	"context"
	"errors"
	"image"
	"testing"

	"go-mrz-scanner/ocr"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"
)

func respond(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestRecognize(t *testing.T) {
	var got []genai.Part
	r := &Recognizer{generate: func(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		got = parts
		return respond(genai.Text("```\nP<UTOERIKSSON<<ANNA<MARIA\nL898902C<3UTO\n```")), nil
	}}

	text, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.Equal(t, "P<UTOERIKSSON<<ANNA<MARIA\nL898902C<3UTO", text)

	require.Len(t, got, 2)
	blob, ok := got[1].(genai.Blob)
	require.True(t, ok)
	require.Equal(t, "image/png", blob.MIMEType)
	require.NoError(t, r.Close())
}

func TestRecognizeEmptyResponse(t *testing.T) {
	r := &Recognizer{generate: func(context.Context, ...genai.Part) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}}
	_, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	require.ErrorIs(t, err, ocr.ErrNoText)
}

func TestRecognizeError(t *testing.T) {
	r := &Recognizer{generate: func(context.Context, ...genai.Part) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("rate limited")
	}}
	_, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	require.ErrorContains(t, err, "rate limited")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{APIKey: " "})
	require.Error(t, err)
}
