package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/evalhub/assess-go-api/internal/service"
	"github.com/evalhub/assess-go-api/internal/utils"
)

// StatsHandler exposes aggregate statistics endpoints.
type StatsHandler struct {
	stats  service.StatsService
	logger zerolog.Logger
}

// NewStatsHandler builds a stats handler instance.
func NewStatsHandler(stats service.StatsService, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger.With().Str("component", "stats_handler").Logger(),
	}
}

// RegisterAssessments attaches the per-assessment stats route.
func (h *StatsHandler) RegisterAssessments(router fiber.Router) {
	router.Get("/:id/stats", h.submissionStats)
}

// RegisterStudents attaches the per-student progress route.
func (h *StatsHandler) RegisterStudents(router fiber.Router) {
	router.Get("/:id/progress", h.studentProgress)
}

func (h *StatsHandler) submissionStats(c *fiber.Ctx) error {
	assessmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stats, err := h.stats.GetSubmissionStats(c.UserContext(), assessmentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "statistics retrieved", stats)
}

func (h *StatsHandler) studentProgress(c *fiber.Ctx) error {
	studentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	courseID, err := parseQueryUint(c, "course_id")
	if err != nil || courseID == nil {
		return utils.SendError(c, fiber.StatusBadRequest, "course_id is required")
	}

	progress, err := h.stats.GetStudentProgress(c.UserContext(), studentID, *courseID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "progress retrieved", progress)
}

func (h *StatsHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assessment not found")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
