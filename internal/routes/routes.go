package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/assistant"
	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/handlers"
	"telehealth-portal-server/internal/middleware"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
	"telehealth-portal-server/internal/otp"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

// Dependencies are the services the HTTP layer is built from.
type Dependencies struct {
	DB         *gorm.DB
	Cfg        *config.Config
	Log        *logrus.Logger
	Scheduling *scheduling.Service
	Assistant  *assistant.Service
	OTP        *otp.Service
	Sink       *notify.Sink
	// Redis is nil when not configured.
	Redis   redis.Cmdable
	Version string
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	utils.RegisterValidators()

	cfg := deps.Cfg
	authHandler := handlers.NewAuthHandler(deps.DB, cfg, deps.OTP, deps.Log)
	userHandler := handlers.NewUserHandler(deps.DB, deps.Sink, deps.Log)
	doctorHandler := handlers.NewDoctorHandler(deps.DB, deps.Scheduling, deps.Log)
	appointmentHandler := handlers.NewAppointmentHandler(deps.DB, deps.Scheduling, deps.Log)
	notificationHandler := handlers.NewNotificationHandler(deps.DB, deps.Log)
	documentHandler := handlers.NewDocumentHandler(deps.DB, deps.Sink, cfg.MaxUploadMB, deps.Log)
	assistantHandler := handlers.NewAssistantHandler(deps.Assistant, deps.Log)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, cfg.Environment, deps.Version)

	authLimit := middleware.RateLimiter(deps.Redis, middleware.RateLimitConfig{
		Limit:  cfg.AuthRateLimit,
		Window: cfg.AuthRateWindow,
	}, deps.Log)

	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", authLimit, authHandler.Register)
			authRoutes.POST("/verify-otp", authLimit, authHandler.VerifyOTP)
			authRoutes.POST("/resend-otp", authLimit, authHandler.ResendOTP)
			authRoutes.POST("/login", authLimit, authHandler.Login)
			authRoutes.POST("/refresh-token", authHandler.RefreshToken)
		}
	}

	// Authenticated routes
	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
			authRoutesPrivate.PUT("/profile", authHandler.UpdateProfile)
		}

		// Doctor directory, visible to every authenticated user
		doctorRoutes := private.Group("/doctors")
		{
			doctorRoutes.GET("", doctorHandler.ListDoctors)
			doctorRoutes.GET("/:id", doctorHandler.GetDoctor)
			doctorRoutes.GET("/:id/availability", doctorHandler.GetAvailability)
		}

		appointmentRoutes := private.Group("/appointments")
		{
			patientOnly := middleware.RoleAuthMiddleware(models.RolePatient)
			appointmentRoutes.POST("/book", patientOnly, appointmentHandler.BookAppointment)
			appointmentRoutes.PATCH("/:id/cancel", patientOnly, appointmentHandler.CancelAppointment)
			appointmentRoutes.PATCH("/:id/reschedule", patientOnly, appointmentHandler.RescheduleAppointment)

			// Role filtering happens in the handler
			appointmentRoutes.GET("", appointmentHandler.GetAppointmentsForUser)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)

			appointmentRoutes.POST("/:id/consultation-summary", middleware.RoleAuthMiddleware(models.RoleDoctor), assistantHandler.CreateConsultationSummary)
			appointmentRoutes.GET("/:id/consultation-summary", assistantHandler.GetConsultationSummary)
		}

		// Doctor self-service
		doctorSelf := private.Group("/doctor")
		doctorSelf.Use(middleware.RoleAuthMiddleware(models.RoleDoctor))
		{
			doctorSelf.GET("/profile", doctorHandler.GetOwnProfile)
			doctorSelf.PUT("/profile", doctorHandler.UpdateOwnProfile)
			doctorSelf.PUT("/availability-status", doctorHandler.UpdateAvailabilityStatus)
			doctorSelf.GET("/availability", doctorHandler.GetOwnAvailability)
			doctorSelf.PUT("/availability", doctorHandler.ReplaceAvailability)
			doctorSelf.DELETE("/availability/:day", doctorHandler.DeleteAvailability)

			doctorSelf.GET("/appointments", appointmentHandler.GetAppointmentsForUser)
			doctorSelf.PUT("/appointments/:id/accept", appointmentHandler.AcceptAppointment)
			doctorSelf.PUT("/appointments/:id/reject", appointmentHandler.RejectAppointment)
			doctorSelf.PUT("/appointments/:id/complete", appointmentHandler.CompleteAppointment)
			doctorSelf.PUT("/appointments/:id/cancel", appointmentHandler.DoctorCancelAppointment)
		}

		adminRoutes := private.Group("/admin")
		adminRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminRoutes.GET("/users", userHandler.GetUsers)
			adminRoutes.PUT("/users/:id/active", userHandler.SetUserActive)
			adminRoutes.GET("/doctors/pending", userHandler.GetPendingDoctors)
			adminRoutes.PUT("/doctors/:id/approve", userHandler.ApproveDoctor)
			adminRoutes.GET("/stats", userHandler.GetStats)
		}

		notificationRoutes := private.Group("/notifications")
		{
			notificationRoutes.GET("", notificationHandler.GetNotifications)
			notificationRoutes.GET("/unread-count", notificationHandler.GetUnreadCount)
			notificationRoutes.PATCH("/read-all", notificationHandler.MarkAllAsRead)
			notificationRoutes.PATCH("/:id/read", notificationHandler.MarkAsRead)
		}

		documentRoutes := private.Group("/documents")
		documentRoutes.Use(middleware.RoleAuthMiddleware(models.RolePatient, models.RoleDoctor))
		{
			documentRoutes.POST("", documentHandler.UploadDocument)
			documentRoutes.GET("", documentHandler.GetDocuments)
			documentRoutes.GET("/:id/download", documentHandler.DownloadDocument)
			documentRoutes.DELETE("/:id", documentHandler.DeleteDocument)
		}

		aiRoutes := private.Group("/ai")
		aiRoutes.Use(middleware.RoleAuthMiddleware(models.RolePatient))
		{
			aiRoutes.GET("/dosha/questions", assistantHandler.GetDoshaQuestions)
			aiRoutes.POST("/dosha", assistantHandler.AssessDosha)
			aiRoutes.GET("/dosha", assistantHandler.GetDoshaHistory)
		}
	}

	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
}
