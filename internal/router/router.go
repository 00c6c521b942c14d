package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/evalhub/assess-go-api/internal/config"
	"github.com/evalhub/assess-go-api/internal/handler"
	"github.com/evalhub/assess-go-api/internal/middleware"
	"github.com/evalhub/assess-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	GradingHandler    *handler.GradingHandler
	StatsHandler      *handler.StatsHandler
	EventsHandler     *handler.EventsHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	instructorOnly := middleware.RequireInstructor()

	assessments := api.Group("/assessments", jwtMiddleware)
	submissions := api.Group("/submissions", jwtMiddleware,
		middleware.RateLimit("submissions", 120, time.Minute))
	students := api.Group("/students", jwtMiddleware)

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterAttempts(assessments)
		deps.SubmissionHandler.Register(submissions)
	}

	if deps.GradingHandler != nil {
		graded := api.Group("/submissions", jwtMiddleware, instructorOnly)
		deps.GradingHandler.Register(graded)
	}

	if deps.StatsHandler != nil {
		deps.StatsHandler.RegisterAssessments(assessments)
		deps.StatsHandler.RegisterStudents(students)
	}

	if deps.EventsHandler != nil {
		ws := app.Group("/ws", jwtMiddleware)
		deps.EventsHandler.Register(ws)
	}
}
