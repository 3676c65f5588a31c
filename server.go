package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go-mrz-scanner/images"
	"go-mrz-scanner/models"
	"go-mrz-scanner/mrz"
	"go-mrz-scanner/scanner"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE_REQUEST = "failed to decode request body"
const ERR_NO_MRZ = "no MRZ found"
const ERR_CAPTURE = "failed to decode capture"
const ERR_SCAN = "failed to scan capture"
const ERR_PREVIEW = "failed to encode document image"
const ERR_SESSION_CREATION = "failed to create scan session"
const ERR_SESSION_NOT_FOUND = "scan session not found"
const ERR_SESSION_PENDING = "scan session has no result yet"
const ERR_SESSION_STORE = "failed to store scan result"
const ERR_SESSION_REMOVAL = "failed to remove session from storage"
const ERR_CHIP = "failed to parse chip data"
const ERR_PASSIVE_FAILED = "passive authentication failed"
const ERR_ISSUANCE_CONVERT = "failed to convert to issuance request"
const ERR_ISSUANCE_DISABLED = "issuance is not configured"
const ERR_JWT_CREATION = "failed to create jwt"
const ERR_COMPOSE = "failed to compose MRZ"

const defaultMaxUploadBytes = 20 << 20

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
	MaxUploadBytes int64  `json:"max_upload_bytes,omitempty"`
}

type ServerState struct {
	irmaServerURL  string
	sessionStorage SessionStorage
	scanner        FrameScanner
	parser         *mrz.Parser
	chipVerifier   ChipVerifier
	certPool       cms.CertPool
	converter      MrzDataConverter
	// nil disables /api/issue-mrz
	jwtCreator     JwtCreator
	previewOptions images.PreviewOptions
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultMaxUploadBytes
	}
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/parse", func(w http.ResponseWriter, r *http.Request) {
		handleParse(state, w, r)
	})
	router.HandleFunc("/api/scan", func(w http.ResponseWriter, r *http.Request) {
		handleScan(state, config.MaxUploadBytes, w, r)
	})
	router.HandleFunc("/api/start-scan", func(w http.ResponseWriter, r *http.Request) {
		handleStartScan(state, w, r)
	})
	router.HandleFunc("/api/scan-sessions/{id}/frames", func(w http.ResponseWriter, r *http.Request) {
		handleSessionFrame(state, config.MaxUploadBytes, w, r)
	})
	router.HandleFunc("/api/scan-sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/scan-sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSession(state, w, r)
	}).Methods(http.MethodDelete)
	router.HandleFunc("/api/cross-check", func(w http.ResponseWriter, r *http.Request) {
		handleCrossCheck(state, w, r)
	})
	router.HandleFunc("/api/issue-mrz", func(w http.ResponseWriter, r *http.Request) {
		handleIssueMrz(state, w, r)
	})
	router.HandleFunc("/api/compose", func(w http.ResponseWriter, r *http.Request) {
		handleCompose(w, r)
	})

	slog.Debug("Registered all API routes")

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// OCR of a large capture can take a while
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

type IssuanceResponse struct {
	Jwt           string `json:"jwt"`
	IrmaServerURL string `json:"irma_server_url"`
}

func handleParse(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.ParseRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_REQUEST, err)
		return
	}

	result, err := parseMrz(state.parser, request.Lines, request.Text)
	if err != nil {
		respondWithErr(w, http.StatusUnprocessableEntity, ERR_NO_MRZ, ERR_NO_MRZ, err)
		return
	}

	slog.Info("Parsed MRZ", "format", result.Format, "valid", result.AllCheckDigitsValid)
	if err := writeJSON(w, http.StatusOK, result); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleScan(state *ServerState, limit int64, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received capture to scan")
	result, format, ok := scanCapture(state, limit, w, r)
	if !ok {
		return
	}

	response := models.ScanResponse{CaptureFormat: format.String()}
	if result != nil {
		preview, err := images.PreviewBase64(result.DocumentImage, state.previewOptions)
		if err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_PREVIEW, err)
			return
		}
		response.Found = true
		response.Mrz = result.MRZ
		response.DocumentImage = preview
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Capture scanned", "found", response.Found, "capture_format", response.CaptureFormat)
}

func handleStartScan(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start a scan session")

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	if err := state.sessionStorage.CreateSession(sessionId); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_SESSION_CREATION, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, models.StartScanResponse{SessionId: sessionId}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Scan session started", "session_id", sessionId)
}

// handleSessionFrame scans one frame for a session. The first frame whose
// check digits all pass completes the session, frames arriving afterwards
// are not scanned.
func handleSessionFrame(state *ServerState, limit int64, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	sessionId := mux.Vars(r)["id"]
	record, ok := retrieveSession(state, w, sessionId)
	if !ok {
		return
	}

	response := models.FrameResponse{SessionId: sessionId}
	if record.Completed() {
		slog.Debug("Discarding frame for completed session", "session_id", sessionId)
		response.Completed = true
		response.Mrz, _ = parseMrz(state.parser, record.Lines, "")
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	}

	result, _, ok := scanCapture(state, limit, w, r)
	if !ok {
		return
	}

	if result != nil && result.MRZ.AllCheckDigitsValid {
		preview, err := images.PreviewBase64(result.DocumentImage, state.previewOptions)
		if err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_PREVIEW, err)
			return
		}
		completed, err := state.sessionStorage.CompleteSession(sessionId, models.ScanRecord{
			Lines:         result.MRZ.Lines,
			DocumentImage: preview,
		})
		if err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_SESSION_STORE, err)
			return
		}

		response.Completed = true
		response.Accepted = completed
		response.Mrz = result.MRZ
		if !completed {
			// another frame won the race, report what was stored
			slog.Debug("Session completed concurrently", "session_id", sessionId)
			if stored, err := state.sessionStorage.RetrieveSession(sessionId); err == nil {
				response.Mrz, _ = parseMrz(state.parser, stored.Lines, "")
			}
		} else {
			slog.Info("Scan session completed", "session_id", sessionId, "format", result.MRZ.Format)
		}
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleGetSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	record, ok := retrieveSession(state, w, sessionId)
	if !ok {
		return
	}

	response := models.SessionResponse{
		SessionId:     sessionId,
		Status:        record.Status,
		DocumentImage: record.DocumentImage,
	}
	if record.Completed() {
		result, err := parseMrz(state.parser, record.Lines, "")
		if err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to parse stored MRZ", err)
			return
		}
		response.Mrz = result
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleDeleteSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["id"]
	if err := state.sessionStorage.RemoveSession(sessionId); err != nil {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_NOT_FOUND, ERR_SESSION_REMOVAL, err)
		return
	}
	slog.Info("Scan session removed", "session_id", sessionId)
	w.WriteHeader(http.StatusNoContent)
}

func handleCrossCheck(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to cross check an MRZ against chip data")

	var request models.CrossCheckRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_REQUEST, err)
		return
	}

	result, err := parseMrz(state.parser, request.Lines, request.Text)
	if err != nil {
		respondWithErr(w, http.StatusUnprocessableEntity, ERR_NO_MRZ, ERR_NO_MRZ, err)
		return
	}

	doc, err := state.chipVerifier.Parse(request)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_CHIP, err)
		return
	}

	response := state.chipVerifier.CrossCheck(result, doc)
	if request.EFSOD != "" && state.certPool != nil {
		err := state.chipVerifier.Passive(doc, state.certPool)
		if err != nil {
			slog.Warn(ERR_PASSIVE_FAILED, "error", err)
		}
		authentic := err == nil
		response.AuthenticContent = &authentic
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Cross check completed", "match", response.Match)
}

func handleIssueMrz(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	if state.jwtCreator == nil {
		respondWithErr(w, http.StatusNotFound, ERR_ISSUANCE_DISABLED, ERR_ISSUANCE_DISABLED, nil)
		return
	}

	var request models.IssueRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_REQUEST, err)
		return
	}

	slog.Info("Received request to issue MRZ credential", "session_id", request.SessionId)
	record, ok := retrieveSession(state, w, request.SessionId)
	if !ok {
		return
	}
	if !record.Completed() {
		respondWithErr(w, http.StatusBadRequest, ERR_SESSION_PENDING, ERR_SESSION_PENDING, nil)
		return
	}

	result, err := parseMrz(state.parser, record.Lines, "")
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to parse stored MRZ", err)
		return
	}

	data, err := state.converter.ToMrzData(result, time.Now())
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_ISSUANCE_CONVERT, ERR_ISSUANCE_CONVERT, err)
		return
	}

	jwt, err := state.jwtCreator.CreateMrzJwt(data)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_JWT_CREATION, ERR_JWT_CREATION, err)
		return
	}

	response := IssuanceResponse{
		Jwt:           jwt,
		IrmaServerURL: state.irmaServerURL,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("MRZ credential issued successfully", "session_id", request.SessionId)
	removeSession(state.sessionStorage, request.SessionId)
}

func handleCompose(w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.ComposeRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_REQUEST, err)
		return
	}

	format, ok := mrz.FormatByName(request.Format)
	if !ok {
		respondWithErr(w, http.StatusBadRequest, "unknown format", ERR_COMPOSE, fmt.Errorf("unknown format %q", request.Format))
		return
	}

	lines, err := mrz.Compose(format, request.Document)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, err.Error(), ERR_COMPOSE, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, models.ComposeResponse{Lines: lines}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// -----------------------------------------------------------------------------------

// parseMrz parses explicit lines, or selects them from free text.
func parseMrz(parser *mrz.Parser, lines []string, text string) (*mrz.Result, error) {
	if len(lines) > 0 {
		return parser.Parse(lines)
	}
	if strings.TrimSpace(text) == "" {
		return nil, mrz.ErrFormatMismatch
	}
	return parser.ParseText(text)
}

// scanCapture decodes the uploaded capture and runs the pipeline on it. It
// responds itself and returns false on failure.
func scanCapture(state *ServerState, limit int64, w http.ResponseWriter, r *http.Request) (*scanner.ScanResult, images.CaptureFormat, bool) {
	data, contentType, err := readCapture(w, r, limit)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_CAPTURE, err)
		return nil, images.FormatUnknown, false
	}

	img, format, err := images.DecodeCapture(data, contentType)
	if err != nil {
		respondWithErr(w, http.StatusUnsupportedMediaType, ERR_CAPTURE, ERR_CAPTURE, err)
		return nil, format, false
	}
	slog.Debug("Decoded capture", "capture_format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	result, err := state.scanner.ScanFrame(r.Context(), img)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, images.ErrInvalidRegion) {
			status = http.StatusBadRequest
		}
		respondWithErr(w, status, ERR_SCAN, ERR_SCAN, err)
		return nil, format, false
	}
	return result, format, true
}

// readCapture returns the image bytes from either a multipart "image" field
// or the raw request body, with the declared content type.
func readCapture(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(strings.ToLower(contentType), "multipart/form-data") {
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", fmt.Errorf("reading image field: %w", err)
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("reading image field: %w", err)
		}
		return data, header.Header.Get("Content-Type"), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading request body: %w", err)
	}
	return data, contentType, nil
}

func retrieveSession(state *ServerState, w http.ResponseWriter, sessionId string) (models.ScanRecord, bool) {
	slog.Debug("Retrieving scan session", "session_id", sessionId)
	record, err := state.sessionStorage.RetrieveSession(sessionId)
	if errors.Is(err, ErrSessionNotFound) {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_NOT_FOUND, ERR_SESSION_NOT_FOUND, err)
		return record, false
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to get session from storage", err)
		return record, false
	}
	return record, true
}

// removeSession removes the session and logs when that fails; the
// response has already been written.
func removeSession(storage SessionStorage, sessionId string) {
	slog.Debug("Removing scan session", "session_id", sessionId)
	if err := storage.RemoveSession(sessionId); err != nil {
		slog.Error(ERR_SESSION_REMOVAL, "session_id", sessionId, "error", err)
	} else {
		slog.Debug("Scan session removed successfully", "session_id", sessionId)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Failed to decode request", "error", err)
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	hexId := fmt.Sprintf("%x", sessionId)
	slog.Debug("Session ID generated successfully", "session_id", hexId)
	return hexId
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}
