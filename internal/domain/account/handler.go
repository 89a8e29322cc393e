package account

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/middleware"
	"github.com/nanobanana/nanobanana-api/internal/pkg/errorhandler"
	"github.com/nanobanana/nanobanana-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

// InitResponse is the body returned by POST /credits/initialize
type InitResponse struct {
	AlreadyInitialized bool    `json:"already_initialized"`
	Balance            int64   `json:"balance"`
	TransactionID      *string `json:"transaction_id,omitempty"`
	InitialBonus       int64   `json:"initial_bonus"`
	Message            string  `json:"message"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Initialize handles POST /credits/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	res, err := h.svc.Initialize(r.Context(), userID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to initialize credits", err)
		return
	}

	resp := InitResponse{
		AlreadyInitialized: res.AlreadyInitialized,
		Balance:            res.Balance,
		InitialBonus:       res.InitialBonus,
		Message:            "Credits already initialized",
	}
	if !res.AlreadyInitialized {
		resp.Message = fmt.Sprintf("Welcome! %d bonus credits granted", res.InitialBonus)
	}
	if res.TransactionID != nil {
		id := res.TransactionID.String()
		resp.TransactionID = &id
	}
	response.OK(w, resp)
}

// Report handles GET /credits
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n == 0 {
			response.BadRequest(w, ErrInvalidLimit.Error())
			return
		}
		limit = n
	}

	report, err := h.svc.Report(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, ErrInvalidLimit) {
			response.BadRequest(w, err.Error())
			return
		}
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load credits", err)
		return
	}

	response.OK(w, report)
}

// Workspaces handles GET /credits/workspaces
func (h *Handler) Workspaces(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	items, err := h.svc.Workspaces(r.Context(), userID)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load workspaces", err)
		return
	}
	response.OK(w, items)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Report)
	r.Post("/initialize", h.Initialize)
	r.Get("/workspaces", h.Workspaces)
	return r
}
