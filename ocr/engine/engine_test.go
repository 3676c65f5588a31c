package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go-mrz-scanner/ocr/tesseract"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to tesseract", func(t *testing.T) {
		e, err := New(ctx, Config{})
		require.NoError(t, err)
		require.IsType(t, &tesseract.Engine{}, e.Recognizer)
		require.Nil(t, e.Locator)
		require.NoError(t, e.Close())
	})

	t.Run("locator", func(t *testing.T) {
		e, err := New(ctx, Config{UseLocator: true})
		require.NoError(t, err)
		require.NotNil(t, e.Locator)
	})

	t.Run("unknown engine", func(t *testing.T) {
		_, err := New(ctx, Config{Engines: []string{"tesseract", "abbyy"}})
		require.ErrorContains(t, err, "abbyy")
	})

	t.Run("gemini needs an API key", func(t *testing.T) {
		_, err := New(ctx, Config{Engines: []string{Gemini}})
		require.Error(t, err)
	})
}
