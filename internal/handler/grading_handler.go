package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/repository"
	"github.com/evalhub/assess-go-api/internal/service"
	"github.com/evalhub/assess-go-api/internal/utils"
)

// GradingHandler exposes grading and review endpoints for instructors.
type GradingHandler struct {
	grading     service.GradingService
	review      service.ReviewService
	suggestions service.SuggestionService
	logger      zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(grading service.GradingService, review service.ReviewService, suggestions service.SuggestionService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		grading:     grading,
		review:      review,
		suggestions: suggestions,
		logger:      logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the grading routes to the submissions router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/:id/grade", h.grade)
	router.Post("/:id/override", h.override)
	router.Post("/:id/revision", h.requestRevision)
	router.Post("/:id/plagiarism", h.recordPlagiarism)
	router.Get("/:id/suggestions", h.suggestFeedback)
}

func (h *GradingHandler) suggestFeedback(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	suggestions, err := h.suggestions.SuggestEssayFeedback(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "feedback suggestions drafted", suggestions)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.grading.Grade(c.UserContext(), id, userIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}

func (h *GradingHandler) override(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.OverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.review.OverrideGrade(c.UserContext(), id, userIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grade overridden", submission)
}

func (h *GradingHandler) requestRevision(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RevisionRequestPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.review.RequestRevision(c.UserContext(), id, userIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "revision requested", submission)
}

func (h *GradingHandler) recordPlagiarism(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.PlagiarismReportPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.review.RecordPlagiarismReport(c.UserContext(), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "plagiarism report recorded", submission)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrAssessmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assessment not found")
	case errors.Is(err, service.ErrSubmissionNotCompleted):
		return utils.SendError(c, fiber.StatusConflict, "submission has not been handed in")
	case errors.Is(err, service.ErrAssessmentQuestionsMissing):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "assessment has no questions")
	case errors.Is(err, service.ErrEmptyAnswers):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "submission has no answers")
	case errors.Is(err, service.ErrAssistantUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "feedback assistant is not configured")
	case errors.Is(err, service.ErrMissingGradeInput):
		return utils.SendError(c, fiber.StatusBadRequest, "either points or percentage is required")
	case errors.Is(err, repository.ErrVersionConflict):
		return utils.SendError(c, fiber.StatusConflict, "submission was modified concurrently, retry")
	case errors.As(err, &validationErrors):
		return utils.SendValidationError(c, validationErrors)
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
