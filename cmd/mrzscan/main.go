// Command mrzscan reads MRZs from image files or recognizer text.
//
// Image files are treated as consecutive frames of one capture: the first
// frame whose check digits all pass wins. With --all every file is scanned
// on its own.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-mrz-scanner/images"
	log "go-mrz-scanner/logging"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/ocr/engine"
	"go-mrz-scanner/scanner"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

const (
	exitFound    = 0
	exitError    = 1
	exitNotFound = 2
)

type output struct {
	File  string      `json:"file,omitempty"`
	Found bool        `json:"found"`
	Mrz   *mrz.Result `json:"mrz,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := ff.NewFlagSet("mrzscan")
	var (
		text       = fs.BoolLong("text", "Parse recognizer text from stdin instead of scanning images")
		all        = fs.BoolLong("all", "Scan every file on its own instead of as frames of one capture")
		workers    = fs.IntLong("workers", 2, "Frames analyzed concurrently")
		engines    = fs.StringLong("engine", engine.Tesseract, "Comma separated recognizers: tesseract, vision, gemini")
		locator    = fs.BoolLong("locator", "Locate the MRZ with Tesseract line boxes before recognition")
		language   = fs.StringLong("lang", "", "Tesseract language")
		tessdata   = fs.StringLong("tessdata", "", "Tesseract tessdata directory")
		geminiKey  = fs.StringLong("gemini-key", "", "Google Gemini API key")
		visionCred = fs.StringLong("vision-credentials", "", "Google Cloud Vision credentials file")
		imageOut   = fs.StringLong("image-out", "", "Write the document image of the winning frame as PNG")
		timeout    = fs.DurationLong("timeout", 2*time.Minute, "Give up after this long")
		logLevel   = fs.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
		logFormat  = fs.StringLong("log-format", "text", "Log format: text or json")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("MRZSCAN")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	log.InitLogger(*logLevel, *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if *text {
		return parseStdin(os.Stdin, os.Stdout)
	}

	files := fs.GetArgs()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: no image files given")
		return exitError
	}

	config := engine.Config{
		Engines:    strings.Split(*engines, ","),
		UseLocator: *locator,
	}
	config.Tesseract.Language = *language
	config.Tesseract.TessdataPrefix = *tessdata
	config.Gemini.APIKey = *geminiKey
	config.Vision.CredentialsFile = *visionCred

	ocrEngine, err := engine.New(ctx, config)
	if err != nil {
		slog.Error("failed to instantiate recognizer", "error", err)
		return exitError
	}
	defer func() { _ = ocrEngine.Close() }()

	opts := []scanner.Option{scanner.WithLogger(log.GetLogger())}
	if ocrEngine.Locator != nil {
		opts = append(opts, scanner.WithLocator(ocrEngine.Locator))
	}
	s := scanner.New(ocrEngine.Recognizer, opts...)

	if *all {
		return scanEach(ctx, s, files, os.Stdout)
	}
	return scanFrames(ctx, s, files, *workers, *imageOut, os.Stdout)
}

func parseStdin(r io.Reader, w io.Writer) int {
	data, err := io.ReadAll(r)
	if err != nil {
		slog.Error("failed to read stdin", "error", err)
		return exitError
	}
	result, err := mrz.NewParser().ParseText(string(data))
	if err != nil {
		slog.Warn("no MRZ found", "error", err)
		return writeOutput(w, output{})
	}
	return writeOutput(w, output{Found: true, Mrz: result})
}

func scanEach(ctx context.Context, s *scanner.Scanner, files []string, w io.Writer) int {
	code := exitNotFound
	for _, file := range files {
		frame, err := loadFrame(file)
		if err != nil {
			slog.Error("failed to load image", "file", file, "error", err)
			return exitError
		}
		res, err := s.ScanFrame(ctx, frame)
		if err != nil {
			slog.Error("failed to scan image", "file", file, "error", err)
			return exitError
		}
		out := output{File: file}
		if res != nil {
			out.Found = true
			out.Mrz = res.MRZ
			code = exitFound
		}
		if writeOutput(w, out) == exitError {
			return exitError
		}
	}
	return code
}

// scanFrames feeds the files to a scan session and waits until a frame
// completes it or every frame was analyzed.
func scanFrames(ctx context.Context, s *scanner.Scanner, files []string, workers int, imageOut string, w io.Writer) int {
	sess := s.NewSession(nil, scanner.WithWorkers(workers))

	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()

	for _, file := range files {
		frame, err := loadFrame(file)
		if err != nil {
			slog.Warn("Skipping unreadable frame", "file", file, "error", err)
			continue
		}
		if !sess.Submit(frame) {
			break
		}
		slog.Debug("Submitted frame", "file", file)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !sess.Completed() && !sess.Idle() && ctx.Err() == nil {
		select {
		case <-sess.Done():
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	sess.Stop()

	err := <-errc
	slog.Info("Scan session finished", "processed", sess.Processed(), "dropped", sess.Dropped())
	switch {
	case err == nil:
	case errors.Is(err, scanner.ErrStopped):
		return writeOutput(w, output{})
	default:
		slog.Error("scan session failed", "error", err)
		return exitError
	}
	winner, ok := sess.Result()
	if !ok {
		return writeOutput(w, output{})
	}

	if imageOut != "" {
		data, err := images.EncodePNG(winner.DocumentImage)
		if err != nil {
			slog.Error("failed to encode document image", "error", err)
			return exitError
		}
		if err := os.WriteFile(imageOut, data, 0o644); err != nil {
			slog.Error("failed to write document image", "path", imageOut, "error", err)
			return exitError
		}
	}
	return writeOutput(w, output{Found: true, Mrz: winner.MRZ})
}

func loadFrame(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, format, err := images.DecodeCapture(data, "")
	if err != nil {
		return nil, err
	}
	slog.Debug("Decoded frame", "file", path, "capture_format", format)
	return img, nil
}

func writeOutput(w io.Writer, out output) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write output", "error", err)
		return exitError
	}
	if !out.Found {
		return exitNotFound
	}
	return exitFound
}
