package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"go-mrz-scanner/images"
	"go-mrz-scanner/models"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/scanner"

	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage())

	resp, body, ok := doRequest[map[string]bool](t, http.MethodGet, baseURL+"/api/health")
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, (*ok)["ok"])
}

func TestParse(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage())
	url := baseURL + "/api/parse"

	t.Run("lines", func(t *testing.T) {
		resp, body, res := postJSON[mrz.Result](t, url, models.ParseRequest{Lines: specimenLines})
		mustStatus(t, resp, http.StatusOK, body)
		require.Equal(t, "TD3", res.Format)
		require.True(t, res.AllCheckDigitsValid)
		require.Equal(t, specimenLines, res.Lines)
	})

	t.Run("free text", func(t *testing.T) {
		text := "PASSPORT\n" + specimenLines[0] + "\n" + specimenLines[1] + "\nUTOPIA"
		resp, body, res := postJSON[mrz.Result](t, url, models.ParseRequest{Text: text})
		mustStatus(t, resp, http.StatusOK, body)
		require.Equal(t, "TD3", res.Format)
		require.Equal(t, specimenLines, res.Lines)
	})

	t.Run("failing check digit is still parsed", func(t *testing.T) {
		resp, body, res := postJSON[mrz.Result](t, url, models.ParseRequest{Lines: invalidLines})
		mustStatus(t, resp, http.StatusOK, body)
		require.False(t, res.AllCheckDigitsValid)
	})

	t.Run("no MRZ", func(t *testing.T) {
		resp, body, _ := postJSON[mrz.Result](t, url, models.ParseRequest{Text: "nothing to see here"})
		mustStatus(t, resp, http.StatusUnprocessableEntity, body)
	})

	t.Run("empty request", func(t *testing.T) {
		resp, body, _ := postJSON[mrz.Result](t, url, models.ParseRequest{})
		mustStatus(t, resp, http.StatusUnprocessableEntity, body)
	})

	t.Run("malformed json", func(t *testing.T) {
		resp, body, _ := postBody[mrz.Result](t, url, "application/json", []byte("{"))
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, body, _ := doRequest[mrz.Result](t, http.MethodGet, url)
		mustStatus(t, resp, http.StatusMethodNotAllowed, body)
	})
}

func TestScan(t *testing.T) {
	url := baseURL + "/api/scan"

	t.Run("found", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		resp, body, sr := postBody[models.ScanResponse](t, url, "image/png", pngCapture(t, 120, 80))
		mustStatus(t, resp, http.StatusOK, body)
		require.True(t, sr.Found)
		require.Equal(t, "png", sr.CaptureFormat)
		require.NotNil(t, sr.Mrz)
		require.Equal(t, specimenLines, sr.Mrz.Lines)
		require.NotEmpty(t, sr.DocumentImage)
	})

	t.Run("multipart upload", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("image", "capture.png")
		require.NoError(t, err)
		_, err = part.Write(pngCapture(t, 60, 40))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, body, sr := postBody[models.ScanResponse](t, url, mw.FormDataContentType(), buf.Bytes())
		mustStatus(t, resp, http.StatusOK, body)
		require.True(t, sr.Found)
		require.Equal(t, "png", sr.CaptureFormat)
	})

	t.Run("nothing found", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage(), withScanner(resultScanner(nil)))

		resp, body, sr := postBody[models.ScanResponse](t, url, "image/png", pngCapture(t, 120, 80))
		mustStatus(t, resp, http.StatusOK, body)
		require.False(t, sr.Found)
		require.Nil(t, sr.Mrz)
		require.Empty(t, sr.DocumentImage)
	})

	t.Run("not an image", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		resp, body, _ := postBody[models.ScanResponse](t, url, "text/plain", []byte("hello"))
		mustStatus(t, resp, http.StatusUnsupportedMediaType, body)
	})

	t.Run("invalid region", func(t *testing.T) {
		failing := scanFunc(func(context.Context, image.Image) (*scanner.ScanResult, error) {
			return nil, images.ErrInvalidRegion
		})
		startTestServer(t, NewInMemorySessionStorage(), withScanner(failing))

		resp, body, _ := postBody[models.ScanResponse](t, url, "image/png", pngCapture(t, 120, 80))
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("recognizer failure", func(t *testing.T) {
		failing := scanFunc(func(context.Context, image.Image) (*scanner.ScanResult, error) {
			return nil, errors.New("engine unavailable")
		})
		startTestServer(t, NewInMemorySessionStorage(), withScanner(failing))

		resp, body, _ := postBody[models.ScanResponse](t, url, "image/png", pngCapture(t, 120, 80))
		mustStatus(t, resp, http.StatusInternalServerError, body)
	})
}

func TestScanSession_FirstValidFrameCompletes(t *testing.T) {
	storage := NewInMemorySessionStorage()

	// frames narrower than 100 pixels carry a bad check digit
	counting := &countingScanner{next: scanFunc(func(ctx context.Context, frame image.Image) (*scanner.ScanResult, error) {
		if frame.Bounds().Dx() < 100 {
			return resultScanner(invalidLines)(ctx, frame)
		}
		return resultScanner(specimenLines)(ctx, frame)
	})}
	startTestServer(t, storage, withScanner(counting))

	sessionId := startSession(t)
	sessionURL := baseURL + "/api/scan-sessions/" + sessionId
	framesURL := sessionURL + "/frames"

	resp, body, sr := doRequest[models.SessionResponse](t, http.MethodGet, sessionURL)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, models.SessionPending, sr.Status)
	require.Nil(t, sr.Mrz)

	resp, body, fr := postBody[models.FrameResponse](t, framesURL, "image/png", pngCapture(t, 60, 40))
	mustStatus(t, resp, http.StatusOK, body)
	require.False(t, fr.Completed)
	require.False(t, fr.Accepted)

	resp, body, fr = postBody[models.FrameResponse](t, framesURL, "image/png", pngCapture(t, 160, 100))
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, fr.Completed)
	require.True(t, fr.Accepted)
	require.Equal(t, specimenLines, fr.Mrz.Lines)

	resp, body, fr = postBody[models.FrameResponse](t, framesURL, "image/png", pngCapture(t, 160, 100))
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, fr.Completed)
	require.False(t, fr.Accepted)
	require.Equal(t, specimenLines, fr.Mrz.Lines)
	require.EqualValues(t, 2, counting.calls.Load(), "frames after completion are not scanned")

	resp, body, sr = doRequest[models.SessionResponse](t, http.MethodGet, sessionURL)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, models.SessionCompleted, sr.Status)
	require.NotNil(t, sr.Mrz)
	require.True(t, sr.Mrz.AllCheckDigitsValid)
	require.NotEmpty(t, sr.DocumentImage)

	resp, body, _ = doRequest[any](t, http.MethodDelete, sessionURL)
	mustStatus(t, resp, http.StatusNoContent, body)

	resp, body, _ = doRequest[any](t, http.MethodGet, sessionURL)
	mustStatus(t, resp, http.StatusNotFound, body)
}

func TestScanSession_UnknownSession(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage())
	url := baseURL + "/api/scan-sessions/does-not-exist"

	resp, body, _ := postBody[models.FrameResponse](t, url+"/frames", "image/png", pngCapture(t, 60, 40))
	mustStatus(t, resp, http.StatusNotFound, body)

	resp, body, _ = doRequest[any](t, http.MethodGet, url)
	mustStatus(t, resp, http.StatusNotFound, body)

	resp, body, _ = doRequest[any](t, http.MethodDelete, url)
	mustStatus(t, resp, http.StatusNotFound, body)
}

func completeSession(t *testing.T) string {
	t.Helper()
	sessionId := startSession(t)
	resp, body, fr := postBody[models.FrameResponse](t, baseURL+"/api/scan-sessions/"+sessionId+"/frames", "image/png", pngCapture(t, 160, 100))
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, fr.Accepted)
	return sessionId
}

func TestIssueMrz_Success_RemovesSession(t *testing.T) {
	storage := NewInMemorySessionStorage()
	startTestServer(t, storage)

	sessionId := completeSession(t)
	resp, body, ir := postJSON[IssuanceResponse](t, baseURL+"/api/issue-mrz", models.IssueRequest{SessionId: sessionId})
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "test-jwt", ir.Jwt)
	require.Equal(t, "https://irma.example", ir.IrmaServerURL)

	_, err := storage.RetrieveSession(sessionId)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIssueMrz_Fail_SessionReuse(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage())

	sessionId := completeSession(t)
	req := models.IssueRequest{SessionId: sessionId}

	resp1, body1, _ := postJSON[IssuanceResponse](t, baseURL+"/api/issue-mrz", req)
	mustStatus(t, resp1, http.StatusOK, body1)

	resp2, body2, _ := postJSON[IssuanceResponse](t, baseURL+"/api/issue-mrz", req)
	mustStatus(t, resp2, http.StatusNotFound, body2)
}

func TestIssueMrz_Fail_PendingSession(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage())

	sessionId := startSession(t)
	resp, body, _ := postJSON[IssuanceResponse](t, baseURL+"/api/issue-mrz", models.IssueRequest{SessionId: sessionId})
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestIssueMrz_Disabled(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage(), withoutIssuance())

	sessionId := completeSession(t)
	resp, body, _ := postJSON[IssuanceResponse](t, baseURL+"/api/issue-mrz", models.IssueRequest{SessionId: sessionId})
	mustStatus(t, resp, http.StatusNotFound, body)
}

func TestCompose(t *testing.T) {
	startTestServer(t, NewInMemorySessionStorage())
	url := baseURL + "/api/compose"

	doc := mrz.Document{
		DocumentCode:   "P",
		IssuingState:   "UTO",
		Surname:        "Eriksson",
		GivenNames:     []string{"Anna", "Maria"},
		DocumentNumber: "L898902C",
		Nationality:    "UTO",
		BirthDate:      time.Date(1969, time.August, 6, 0, 0, 0, 0, time.UTC),
		Sex:            "F",
		ExpiryDate:     time.Date(1994, time.June, 23, 0, 0, 0, 0, time.UTC),
		OptionalData:   "ZE184226B",
	}

	t.Run("TD3", func(t *testing.T) {
		resp, body, cr := postJSON[models.ComposeResponse](t, url, models.ComposeRequest{Format: "TD3", Document: doc})
		mustStatus(t, resp, http.StatusOK, body)
		require.Equal(t, specimenLines, cr.Lines)
	})

	t.Run("unknown format", func(t *testing.T) {
		resp, body, _ := postJSON[models.ComposeResponse](t, url, models.ComposeRequest{Format: "TD4", Document: doc})
		mustStatus(t, resp, http.StatusBadRequest, body)
	})
}

func TestCrossCheck(t *testing.T) {
	url := baseURL + "/api/cross-check"
	request := models.CrossCheckRequest{
		Lines:      specimenLines,
		DataGroups: map[string]string{"DG1": "00"},
	}

	t.Run("match without SOD", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		resp, body, cr := postJSON[models.CrossCheckResponse](t, url, request)
		mustStatus(t, resp, http.StatusOK, body)
		require.True(t, cr.Match)
		require.Nil(t, cr.AuthenticContent)
	})

	t.Run("authentic content", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		withSOD := request
		withSOD.EFSOD = "00"
		resp, body, cr := postJSON[models.CrossCheckResponse](t, url, withSOD)
		mustStatus(t, resp, http.StatusOK, body)
		require.NotNil(t, cr.AuthenticContent)
		require.True(t, *cr.AuthenticContent)
	})

	t.Run("passive authentication fails", func(t *testing.T) {
		verifier := fakeChipVerifier{passiveErr: errors.New("signature invalid"), mismatch: true}
		startTestServer(t, NewInMemorySessionStorage(), withChipVerifier(verifier))

		withSOD := request
		withSOD.EFSOD = "00"
		resp, body, cr := postJSON[models.CrossCheckResponse](t, url, withSOD)
		mustStatus(t, resp, http.StatusOK, body)
		require.False(t, cr.Match)
		require.NotNil(t, cr.AuthenticContent)
		require.False(t, *cr.AuthenticContent)
	})

	t.Run("no chip data", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		resp, body, _ := postJSON[models.CrossCheckResponse](t, url, models.CrossCheckRequest{Lines: specimenLines})
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("no MRZ", func(t *testing.T) {
		startTestServer(t, NewInMemorySessionStorage())

		resp, body, _ := postJSON[models.CrossCheckResponse](t, url, models.CrossCheckRequest{
			Text:       "garbage",
			DataGroups: map[string]string{"DG1": "00"},
		})
		mustStatus(t, resp, http.StatusUnprocessableEntity, body)
	})
}

func TestSessionIdGeneration(t *testing.T) {
	sessionId := GenerateSessionId()
	require.Len(t, sessionId, 32)
	require.NotEqual(t, sessionId, GenerateSessionId())
}
