package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/deckflow/internal/model"
	"github.com/makeasinger/deckflow/internal/service"
	"github.com/makeasinger/deckflow/pkg/response"
)

// PresentationService is what the handler needs from the job layer.
type PresentationService interface {
	Create(ctx context.Context, req *model.CreatePresentationRequest) (*model.Presentation, error)
	Start(ctx context.Context, jobID string) (*model.StartResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error)
	GetHistory(ctx context.Context, jobID string) (*model.HistoryResponse, error)
}

type PresentationHandler struct {
	service   PresentationService
	validator *validator.Validate
}

func NewPresentationHandler(svc PresentationService, v *validator.Validate) *PresentationHandler {
	return &PresentationHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /presentations
func (h *PresentationHandler) Create(c *fiber.Ctx) error {
	var req model.CreatePresentationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.UserContext(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, model.StatusResponse{PID: result.ID, Status: string(result.Status)})
}

// Start handles POST /start-presentation/:jobId
func (h *PresentationHandler) Start(c *fiber.Ctx) error {
	jobID, err := h.jobID(c.Params("jobId"))
	if err != nil {
		return response.ValidationError(c, "Presentation ID is invalid", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.UserContext(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /presentation-status/:jobId
func (h *PresentationHandler) Status(c *fiber.Ctx) error {
	jobID, err := h.jobID(c.Params("jobId"))
	if err != nil {
		return response.ValidationError(c, "Presentation ID is invalid", formatValidationErrors(err))
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Logs handles GET /logs?p_id=
func (h *PresentationHandler) Logs(c *fiber.Ctx) error {
	jobID, err := h.jobID(c.Query("p_id"))
	if err != nil {
		return response.ValidationError(c, "Presentation ID is invalid", formatValidationErrors(err))
	}

	result, err := h.service.GetHistory(c.UserContext(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

func (h *PresentationHandler) jobID(raw string) (string, error) {
	params := model.PresentationParams{JobID: raw}
	if err := h.validator.Struct(&params); err != nil {
		return "", err
	}
	return params.JobID, nil
}

func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Presentation not found")
	case errors.Is(err, service.ErrJobFinished):
		return response.Conflict(c, "Presentation already finished")
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
