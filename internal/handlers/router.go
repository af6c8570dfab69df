package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
	reviewHandler  *ReviewHandler
	auditHandler   *AuditHandler
	monitorHandler *MonitorHandler
	verifier       *TokenVerifier
	logger         utils.Logger
}

func NewHandlerManager(
	attempt *AttemptHandler,
	review *ReviewHandler,
	audit *AuditHandler,
	monitor *MonitorHandler,
	verifier *TokenVerifier,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		attemptHandler: attempt,
		reviewHandler:  review,
		auditHandler:   audit,
		monitorHandler: monitor,
		verifier:       verifier,
		logger:         logger,
	}
}

// NewRouter builds the engine with the logging middleware and all routes.
func (hm *HandlerManager) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ContextLogger(hm.logger))
	router.Use(utils.LoggerMiddleware(hm.logger))
	hm.SetupRoutes(router)
	return router
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.monitorHandler.Health)
	router.GET("/ready", hm.monitorHandler.Ready)

	staff := RequireRoles(models.RoleTrainer, models.RoleAdmin)

	api := router.Group("", AuthMiddleware(hm.verifier))

	// Gin needs one wildcard name per segment, so :id is the quiz id on
	// start and the attempt id on the in-attempt writes.
	quizzes := api.Group("/quizzes")
	{
		quizzes.POST("/:id/start", hm.attemptHandler.StartAttempt)
		quizzes.POST("/:id/auto-save", hm.attemptHandler.SaveAnswers)
		quizzes.POST("/:id/save", hm.attemptHandler.SaveAnswers)
		quizzes.POST("/:id/signals", hm.attemptHandler.RecordSignal)
		quizzes.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)

		quizzes.GET("/attempts/:attemptId", hm.attemptHandler.GetAttempt)
		quizzes.GET("/attempts/:attemptId/time-remaining", hm.attemptHandler.GetTimeRemaining)

		quizzes.GET("/:id/my-attempts", hm.attemptHandler.ListMyAttempts)
		quizzes.GET("/:id/attempts/:attemptId/results", hm.attemptHandler.GetResults)

		// Trainer review
		quizzes.GET("/:id/attempts", staff, hm.reviewHandler.ListQuizAttempts)
		quizzes.GET("/:id/attempts/:attemptId/details", staff, hm.reviewHandler.GetAttemptDetails)
		quizzes.POST("/:id/attempts/:attemptId/grade", staff, hm.reviewHandler.GradeQuestion)
		quizzes.GET("/:id/stats", staff, hm.reviewHandler.GetQuizStats)
		quizzes.GET("/:id/results/export", staff, hm.reviewHandler.ExportResults)
		quizzes.GET("/:id/monitor", staff, hm.monitorHandler.Monitor)
	}

	audit := api.Group("/audit")
	{
		audit.POST("/event", hm.auditHandler.RecordEvent)
		audit.POST("/batch", hm.auditHandler.RecordBatch)
		audit.GET("/suspicious", staff, hm.auditHandler.ListSuspicious)
		audit.GET("/:attemptId", staff, hm.auditHandler.ListAttemptLogs)
	}
}
