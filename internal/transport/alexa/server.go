package alexa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"familyconnect/internal/family"
	"familyconnect/internal/intent"
	"familyconnect/internal/pairing"
	logx "familyconnect/pkg/logx"

	"github.com/go-playground/validator/v10"
)

const (
	maxBodyBytes = 64 << 10
	apology      = "Sorry, something went wrong. Please try again later."
)

type Router interface {
	Handle(ctx context.Context, accountID string, in intent.Intent) (intent.Response, error)
}

type Devices interface {
	DeviceExists(ctx context.Context, deviceID string) (bool, error)
}

type Binder interface {
	Bind(ctx context.Context, req pairing.BindRequest) (family.Member, error)
}

// Server serves the skill webhook and the device endpoints used by the
// client app.
type Server struct {
	router  Router
	devices Devices
	binder  Binder
	log     logx.Logger

	mu    sync.RWMutex
	appID string
}

func NewServer(applicationID string, router Router, devices Devices, binder Binder, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		router:  router,
		devices: devices,
		binder:  binder,
		log:     log.With(logx.String("comp", "alexa")),
	}
	s.SetApplicationID(applicationID)
	return s
}

// SetApplicationID swaps the expected skill id, e.g. after a config reload.
func (s *Server) SetApplicationID(id string) {
	s.mu.Lock()
	s.appID = strings.TrimSpace(id)
	s.mu.Unlock()
}

func (s *Server) applicationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID
}

// Register mounts the routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /alexa", s.handleSkill)
	mux.HandleFunc("GET /apps/{id}/exists", s.handleExists)
	mux.HandleFunc("POST /apps/pair", s.handlePair)
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	var env RequestEnvelope
	if err := decodeJSON(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := env.Authorize(s.applicationID()); err != nil {
		s.log.Warn("rejected skill request", logx.String("application", env.Session.Application.ApplicationID))
		writeError(w, http.StatusForbidden, "Skill doesn't match ID")
		return
	}

	account := env.AccountID()
	if account == "" {
		s.log.Warn("rejected skill request without user id")
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	in := env.Intent()
	resp, err := s.router.Handle(r.Context(), account, in)
	if err != nil {
		s.log.Error("intent failed", logx.String("intent", in.Name()), logx.Err(err))
		writeJSON(w, http.StatusOK, Speak(apology))
		return
	}
	writeJSON(w, http.StatusOK, Speak(resp.Speech))
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	ok, err := s.devices.DeviceExists(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.Error("device lookup failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairing.BindRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := s.binder.Bind(r.Context(), req)
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"family_id": m.FamilyID, "device_id": m.ID, "name": m.Name})
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, "invalid "+strings.ToLower(verrs[0].Field()))
	case errors.Is(err, pairing.ErrUnknownCode):
		writeError(w, http.StatusNotFound, "unknown code")
	case errors.Is(err, pairing.ErrDeviceTaken):
		writeError(w, http.StatusConflict, "device already paired")
	default:
		s.log.Error("pairing failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
