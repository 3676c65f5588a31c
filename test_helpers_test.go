package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go-mrz-scanner/images"
	"go-mrz-scanner/models"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/scanner"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/gmrtd/gmrtd/document"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:8081"

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

var specimenLines = []string{
	"P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
	"L898902C<3UTO6908061F9406236ZE184226B<<<<<14",
}

// composite check digit off by one
var invalidLines = []string{
	"P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
	"L898902C<3UTO6908061F9406236ZE184226B<<<<<15",
}

type stateOpt func(*ServerState)

func withScanner(s FrameScanner) stateOpt {
	return func(st *ServerState) { st.scanner = s }
}

func withChipVerifier(v ChipVerifier) stateOpt {
	return func(st *ServerState) { st.chipVerifier = v }
}

func withoutIssuance() stateOpt {
	return func(st *ServerState) { st.jwtCreator = nil }
}

func startTestServer(t *testing.T, storage SessionStorage, opts ...stateOpt) *Server {
	t.Helper()

	testState := &ServerState{
		irmaServerURL:  "https://irma.example",
		sessionStorage: storage,
		scanner:        resultScanner(specimenLines),
		parser:         mrz.NewParser(),
		chipVerifier:   fakeChipVerifier{},
		certPool:       &cms.GenericCertPool{},
		converter:      MrzDataConverterImpl{},
		jwtCreator:     fakeJwtCreator{jwt: "test-jwt"},
		previewOptions: images.DefaultPreviewOptions,
	}
	for _, o := range opts {
		o(testState)
	}

	srv, err := NewServer(testState, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, baseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	return decodeResponse[T](t, resp)
}

func postBody[T any](t *testing.T, url, contentType string, payload []byte) (*http.Response, []byte, *T) {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(payload))
	require.NoError(t, err)
	return decodeResponse[T](t, resp)
}

func doRequest[T any](t *testing.T, method, url string) (*http.Response, []byte, *T) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return decodeResponse[T](t, resp)
}

func decodeResponse[T any](t *testing.T, resp *http.Response) (*http.Response, []byte, *T) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

func pngCapture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 220, G: 220, B: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// startSession bootstraps a scan session through the API.
func startSession(t *testing.T) string {
	t.Helper()
	resp, body, sr := postJSON[models.StartScanResponse](t, baseURL+"/api/start-scan", nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	return sr.SessionId
}

// test doubles

type scanFunc func(ctx context.Context, frame image.Image) (*scanner.ScanResult, error)

func (f scanFunc) ScanFrame(ctx context.Context, frame image.Image) (*scanner.ScanResult, error) {
	return f(ctx, frame)
}

// resultScanner parses lines for every frame and returns the frame itself
// as document image. Nil lines find nothing.
func resultScanner(lines []string) scanFunc {
	return func(_ context.Context, frame image.Image) (*scanner.ScanResult, error) {
		if lines == nil {
			return nil, nil
		}
		res, err := mrz.NewParser().Parse(lines)
		if err != nil {
			return nil, err
		}
		return &scanner.ScanResult{MRZ: res, DocumentImage: frame}, nil
	}
}

// countingScanner counts the frames it scans.
type countingScanner struct {
	next  FrameScanner
	calls atomic.Int32
}

func (c *countingScanner) ScanFrame(ctx context.Context, frame image.Image) (*scanner.ScanResult, error) {
	c.calls.Add(1)
	return c.next.ScanFrame(ctx, frame)
}

type fakeJwtCreator struct{ jwt string }

func (f fakeJwtCreator) CreateMrzJwt(_ models.MrzData) (string, error) {
	return f.jwt, nil
}

type fakeChipVerifier struct {
	passiveErr error
	mismatch   bool
}

func (fakeChipVerifier) Parse(req models.CrossCheckRequest) (*document.Document, error) {
	if len(req.DataGroups) == 0 {
		return nil, errors.New("no data groups found in chip data")
	}
	return &document.Document{}, nil
}

func (f fakeChipVerifier) Passive(*document.Document, cms.CertPool) error {
	return f.passiveErr
}

func (f fakeChipVerifier) CrossCheck(result *mrz.Result, _ *document.Document) models.CrossCheckResponse {
	number := result.DocumentNumber()
	chip := number
	if f.mismatch {
		chip = "X0000000"
	}
	return models.CrossCheckResponse{
		Match: !f.mismatch,
		Fields: []models.FieldComparison{
			{Field: "documentNumber", Scanned: number, Chip: chip, Match: !f.mismatch},
		},
	}
}
