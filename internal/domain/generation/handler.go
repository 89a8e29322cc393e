package generation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/middleware"
	"github.com/nanobanana/nanobanana-api/internal/pkg/errorhandler"
	"github.com/nanobanana/nanobanana-api/internal/pkg/response"
	"github.com/nanobanana/nanobanana-api/internal/pkg/validator"
)

// Handler serves the generation endpoints
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Submit handles POST /generations
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var dto SubmitRequestDTO
	if err := response.DecodeJSON(r.Body, &dto); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	errs := validator.Validate(&dto)
	if _, priced := h.svc.cfg.Costs.PerImage(dto.Resolution); !priced && dto.Resolution != "" {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["resolution"] = "Invalid resolution. Must be: " + strings.Join(h.svc.cfg.Costs.Resolutions(), ", ")
	}
	if errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	req, err := dto.toRequest(userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, newSubmitResponse(result))
}

// Check handles POST /generations/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var dto CheckRequestDTO
	if err := response.DecodeJSON(r.Body, &dto); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&dto); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	req, err := dto.toRequest(userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Reconcile(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, newCheckResponse(result))
}

// List handles GET /generations
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		response.BadRequest(w, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		response.BadRequest(w, "offset must be an integer")
		return
	}

	jobs, err := h.svc.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]JobResponse, len(jobs))
	for i := range jobs {
		items[i] = newJobResponse(&jobs[i])
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	response.WithMeta(w, items, response.Meta{Total: len(items), Limit: limit})
}

// Get handles GET /generations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid job id")
		return
	}

	job, err := h.svc.GetJob(r.Context(), userID, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, newJobResponse(job))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var inputErr *InputError
	var fundsErr *credit.InsufficientFundsError
	var upstreamErr *UpstreamError

	switch {
	case errors.As(err, &inputErr):
		response.ErrorWithDetails(w, http.StatusBadRequest, "INVALID_INPUT", inputErr.Error(),
			map[string]interface{}{inputErr.Field: inputErr.Message})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, credit.ErrInvalidAmount):
		response.BadRequest(w, err.Error())
	case errors.As(err, &fundsErr):
		response.PaymentRequired(w, "Insufficient credits", fundsErr.Required, fundsErr.Balance)
	case errors.Is(err, credit.ErrInsufficientFunds), errors.Is(err, credit.ErrAccountNotFound):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Insufficient credits")
	case errors.As(err, &upstreamErr):
		code := "UPSTREAM_UNAVAILABLE"
		if errors.Is(upstreamErr, ErrUpstreamRejected) {
			code = "UPSTREAM_REJECTED"
		}
		details := map[string]interface{}{"credits_refunded": upstreamErr.CreditsRefunded}
		if upstreamErr.NewBalance != nil {
			details["new_balance"] = *upstreamErr.NewBalance
		}
		errorhandler.LogExternalServiceError(ctx, "apimart", r.URL.Path, http.StatusBadGateway, upstreamErr.Err)
		response.BadGateway(w, code, upstreamErr.Kind.Error(), details)
	case errors.Is(err, ErrJobNotFound):
		response.NotFound(w, "generation job not found")
	default:
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Submit)
	r.Post("/check", h.Check)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}
