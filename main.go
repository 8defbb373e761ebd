package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/assistant"
	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/logger"
	"telehealth-portal-server/internal/middleware"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
	"telehealth-portal-server/internal/otp"
	"telehealth-portal-server/internal/routes"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/seed"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "telehealth-portal-server",
		Short: "Telehealth portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			if err := models.Migrate(db); err != nil {
				return err
			}
			log.Info("database migrated")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with demo accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			password, _ := cmd.Flags().GetString("password")
			adminEmail, _ := cmd.Flags().GetString("admin-email")

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Logger: log})
			if err != nil {
				return err
			}
			res, err := seed.Run(cmd.Context(), db, seed.Options{
				AdminEmail: adminEmail,
				Password:   password,
				Doctors:    doctors,
				Patients:   patients,
			}, log)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d admin(s), %d doctor(s), %d patient(s).\n", res.Admins, res.Doctors, res.Patients)
			return nil
		},
	}
	cmd.Flags().Int("doctors", 10, "Number of approved doctors to create")
	cmd.Flags().Int("patients", 50, "Number of verified patients to create")
	cmd.Flags().String("password", "Password123!", "Password of every seeded account")
	cmd.Flags().String("admin-email", "admin@telehealth.local", "Email of the admin account")
	return cmd
}

// bootstrap loads .env, the configuration and the logger.
func bootstrap() (*config.Config, *logrus.Logger, error) {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(cfg.Environment, cfg.LogLevel), nil
}

func openDB(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	return models.Open(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Logger: log})
}

func runServer() error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Logger: log})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Redis is optional. Keep the interface nil when disabled so callers can
	// tell the difference.
	var rdb redis.Cmdable
	var otpStore otp.Store = otp.NewMemoryStore()
	client, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client != nil {
		defer client.Close()
		rdb = client
		otpStore = otp.NewRedisStore(client)
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory OTP store and no rate limiting")
	}

	mailer, err := otp.NewMailer(cfg.Mailer, log)
	if err != nil {
		return err
	}
	otpService := otp.NewService(otpStore, mailer, cfg.OTP, log)

	var publisher notify.Publisher = notify.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}
	defer publisher.Close()
	sink := notify.NewSink(publisher, log)

	schedulingService := scheduling.NewService(db, sink, scheduling.Options{
		Location:    loc,
		SlotMinutes: cfg.Scheduling.SlotMinutes,
	}, log)

	chain := assistant.NewChain(log, assistant.ProvidersFromConfig(cfg.AI)...)
	if chain.Len() == 0 {
		log.Warn("AI_PROVIDERS not set, consultation summaries are unavailable")
	}
	assistantService := assistant.NewService(db, chain, log)

	reminders, err := notify.NewReminder(db, sink, loc, log).Schedule(cfg.Scheduling.ReminderCron)
	if err != nil {
		return err
	}
	reminders.Start()
	defer func() { <-reminders.Stop().Done() }()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Dependencies{
		DB:         db,
		Cfg:        cfg,
		Log:        log,
		Scheduling: schedulingService,
		Assistant:  assistantService,
		OTP:        otpService,
		Sink:       sink,
		Redis:      rdb,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Environment}).Info("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
