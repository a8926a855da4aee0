package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"crm-call-service/internal/app"
	"crm-call-service/internal/models"
	"crm-call-service/internal/schema"
	"crm-call-service/internal/service/crm"
	"crm-call-service/internal/service/registry"
	"crm-call-service/internal/service/session"
	"crm-call-service/internal/service/summarize"
	"crm-call-service/internal/store"
)

const maxUploadBytes = 32 << 20

type handlers struct {
	app *app.Application
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Str("component", "http").Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

type startCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	DisplayName string `json:"displayName"`
	ContactID   string `json:"contactId"`
	AvatarRef   string `json:"avatarRef"`
}

func (h *handlers) startCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	contact := models.Contact{
		ID:          req.ContactID,
		DisplayName: req.DisplayName,
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		AvatarRef:   req.AvatarRef,
	}
	if err := h.app.Validator.Validate(contact); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.app.Registry.StartNewCall(r.Context(), contact)
	if err != nil {
		h.registryError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id})
}

func (h *handlers) listCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := h.app.Registry.List(r.Context())
	if err != nil {
		h.registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (h *handlers) getCall(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) getTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Registry.Transcript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type intentRequest struct {
	Intent string `json:"intent"`
}

func (h *handlers) applyIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	intent, err := session.ParseIntent(req.Intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.Registry.ApplyUserIntent(r.Context(), chi.URLParam(r, "id"), intent); err != nil {
		h.registryError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) registryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionEnded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Str("component", "http").Msg("Registry request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handlers) callRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Provider.ListCalls(r.Context())
	if err != nil {
		log.Error().Err(err).Str("component", "http").Msg("Failed to list provider calls")
		writeError(w, http.StatusBadGateway, "failed to fetch call records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *handlers) callHistory(w http.ResponseWriter, r *http.Request) {
	calls, err := h.app.CRM.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch call history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (h *handlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customers, err := h.app.CRM.Customers(r.Context(), crm.Filter{
		Query:  q.Get("q"),
		Status: q.Get("status"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch customers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (h *handlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	var c models.Customer
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.app.Validator.Validate(c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.app.CRM.CreateCustomer(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create customer")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": created})
}

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.app.CRM.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *handlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	file.Close()

	doc, err := h.app.CRM.AddDocument(r.Context(), header.Filename, header.Size, r.FormValue("customerId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upload document")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

func (h *handlers) clone(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "multipart form required")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "recording is required")
			return
		}
		file.Close()

		ack, err := h.app.CRM.AcceptClone(r.Context(), kind, header.Size)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, ack)
	}
}

type extractRequest struct {
	Text string `json:"text"`
}

func (h *handlers) extractContext(w http.ResponseWriter, r *http.Request) {
	if h.app.Summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "context extraction is not configured")
		return
	}

	var text string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req extractRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		text = req.Text
	} else {
		if mediaType == "multipart/form-data" {
			_ = r.ParseMultipartForm(maxUploadBytes)
		}
		text = r.FormValue("text")
	}

	text, err := schema.NormalizeText(text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.app.Summarizer.Summarize(r.Context(), text)
	if err != nil {
		log.Error().Err(err).Str("component", "http").Msg("Context extraction failed")
		var upstream *summarize.Error
		if errors.As(err, &upstream) {
			writeError(w, http.StatusBadGateway, "failed to process text")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process text")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": summary})
}

func (h *handlers) getProviderConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.ProviderConfig.Fetch(r.Context())
	h.writeProviderConfig(w, cfg, err)
}

func (h *handlers) refreshProviderConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.ProviderConfig.Refresh(r.Context())
	h.writeProviderConfig(w, cfg, err)
}

func (h *handlers) saveProviderConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.ProviderConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.TwilioPhoneNumber != "" {
		if err := schema.ValidatePhoneNumber(cfg.TwilioPhoneNumber); err != nil {
			writeError(w, http.StatusBadRequest, "twilioPhoneNumber: "+err.Error())
			return
		}
	}
	current, err := h.app.ProviderConfig.Fetch(r.Context())
	switch {
	case errors.Is(err, store.ErrConfigNotFound):
		current = &models.ProviderConfig{}
		if h.app.Cfg != nil {
			current.OwnerID = h.app.Cfg.Repository.OwnerID
		}
	case err != nil:
		log.Error().Err(err).Str("component", "http").Msg("Failed to load provider config")
		writeError(w, http.StatusInternalServerError, "failed to load provider config")
		return
	}
	merged := current.Merge(cfg)
	if err := h.app.ProviderConfig.Save(r.Context(), &merged); err != nil {
		log.Error().Err(err).Str("component", "http").Msg("Failed to save provider config")
		writeError(w, http.StatusInternalServerError, "failed to save provider config")
		return
	}
	saved, err := h.app.ProviderConfig.Refresh(r.Context())
	h.writeProviderConfig(w, saved, err)
}

func (h *handlers) writeProviderConfig(w http.ResponseWriter, cfg *models.ProviderConfig, err error) {
	if errors.Is(err, store.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "http").Msg("Failed to load provider config")
		writeError(w, http.StatusInternalServerError, "failed to load provider config")
		return
	}
	writeJSON(w, http.StatusOK, cfg.Redacted())
}
