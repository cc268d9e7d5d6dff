package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailpilot/mailpilot/internal/middleware"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/service"
)

// --- Dispatch ---

type dispatchConflictResponse struct {
	Result *model.DispatchResult `json:"result"`
	Error  apiError              `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StartDispatch runs a campaign. With ?async=true the run continues in the
// background and the response is 202.
func (h *Handler) StartDispatch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	campaignID := r.PathValue("id")
	if campaignID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Campaign ID is required")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := h.dispatchSvc.StartCampaignDispatchAsync(r.Context(), userID, campaignID); err != nil {
			h.writeDispatchError(w, err, "failed to start campaign")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"campaignId": campaignID,
			"status":     "started",
		})
		return
	}

	res, err := h.dispatchSvc.StartCampaignDispatch(r.Context(), userID, campaignID)
	if err != nil {
		h.writeDispatchError(w, err, "failed to dispatch campaign")
		return
	}

	if res.ReconnectRequired {
		writeJSON(w, http.StatusConflict, dispatchConflictResponse{
			Result: res,
			Error: apiError{
				Code:    "reconnect_required",
				Message: "The mail account must be reconnected before sending can continue",
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// StopDispatch stops a background campaign run
func (h *Handler) StopDispatch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	campaignID := r.PathValue("id")
	if err := h.dispatchSvc.StopCampaignDispatch(r.Context(), userID, campaignID); err != nil {
		h.writeDispatchError(w, err, "failed to stop campaign")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"campaignId": campaignID,
		"status":     "stopping",
	})
}

func (h *Handler) writeDispatchError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Campaign not found")
	case errors.Is(err, service.ErrCampaignNotOwned):
		writeError(w, http.StatusForbidden, "forbidden", "Campaign does not belong to you")
	case errors.Is(err, service.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", "Campaign is already dispatching")
	case errors.Is(err, service.ErrNotRunning):
		writeError(w, http.StatusConflict, "not_running", "Campaign is not dispatching")
	default:
		h.log.Error().Err(err).Msg(logMsg)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process campaign")
	}
}

// --- History ---

// GetHistory returns the user's delivery ledger, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	records, err := h.dispatchSvc.GetDeliveryHistory(r.Context(), userID, filter)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		h.log.Error().Err(err).Msg("failed to load delivery history")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load delivery history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  records,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseHistoryFilter(r *http.Request) (model.HistoryFilter, error) {
	q := r.URL.Query()
	filter := model.HistoryFilter{
		CampaignID:     q.Get("campaignId"),
		RecipientEmail: q.Get("recipient"),
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errors.New(p.name + " must be an RFC 3339 timestamp")
			}
			*p.dst = &t
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, errors.New(p.name + " must be a non-negative integer")
			}
			*p.dst = n
		}
	}

	return filter, nil
}

// --- Quota ---

// QuotaResponse reports today's remaining send capacity
type QuotaResponse struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// GetQuota returns the user's remaining daily quota
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	remaining, err := h.dispatchSvc.GetRemainingQuota(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read quota")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read quota")
		return
	}

	writeJSON(w, http.StatusOK, QuotaResponse{Remaining: remaining, Limit: h.dispatchSvc.QuotaLimit()})
}

// --- Credentials ---

type connectCredentialRequest struct {
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ConnectCredential stores the OAuth token pair obtained by the consent flow
func (h *Handler) ConnectCredential(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req connectCredentialRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	tok := &oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
		Expiry:       req.ExpiresAt,
	}
	if err := h.dispatchSvc.ConnectCredential(r.Context(), userID, req.Email, tok); err != nil {
		if errors.Is(err, service.ErrInvalidToken) || errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "validation_error", "Email and refresh token are required")
			return
		}
		h.log.Error().Err(err).Msg("failed to store credential")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to store credential")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
