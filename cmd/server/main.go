package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/api/handlers"
	"github.com/rkotchamp/postmore-sub002/internal/api/middleware"
	job "github.com/rkotchamp/postmore-sub002/internal/jobs"
	"github.com/rkotchamp/postmore-sub002/internal/metrics"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
	"github.com/rkotchamp/postmore-sub002/internal/queue"
	"github.com/rkotchamp/postmore-sub002/internal/reconcile"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
	"github.com/rkotchamp/postmore-sub002/internal/service"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	selectedAccountRepo := repository.NewSelectedAccountRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)
	postResultRepo := repository.NewPostResultRepository(db)

	tiktokPub := publisher.NewTiktokPublisher(cfg)
	instagramPub := publisher.NewInstagramPublisher(cfg)
	youtubePub := publisher.NewYoutubePublisher(cfg)
	linkedinPub := publisher.NewLinkedinPublisher(cfg)
	blueskyPub := publisher.NewBlueskyPublisher(cfg)
	registry := publisher.NewRegistry(tiktokPub, instagramPub, youtubePub, linkedinPub, blueskyPub)

	refreshers := map[string]tokens.Refresher{
		models.PlatformTiktok:    tiktokPub,
		models.PlatformInstagram: instagramPub,
		models.PlatformYoutube:   youtubePub,
		models.PlatformLinkedin:  linkedinPub,
		models.PlatformBluesky:   blueskyPub,
	}
	locker := tokens.NewRedisLocker(rdb)
	coordinator := tokens.NewCoordinator(cfg, socialAccountRepo, refreshers, locker)

	reconciler := reconcile.NewReconciler(postRepo, selectedAccountRepo, postResultRepo)
	scheduler := queue.NewScheduler(cfg, client, inspector)

	refreshJob := job.NewTokenRefreshJob(cfg, socialAccountRepo, coordinator)
	pollJob := job.NewStatusPollJob(postResultRepo, coordinator, tiktokPub, reconciler, rdb)

	worker := queue.NewWorker(coordinator, registry, reconciler, refreshJob, pollJob)
	servers := queue.NewServers(cfg, redisOpt, worker)

	authService := service.NewAuthService(cfg, userRepo)
	userService := service.NewUserService(userRepo)
	r2Service := service.NewR2Service(cfg)
	postService := service.NewPostService(db, postRepo, selectedAccountRepo, mediaAssetRepo, socialAccountRepo, postMediaRepo, settingsRepo, postResultRepo, r2Service, scheduler)
	platformService := service.NewPlatformService(cfg, socialAccountRepo, scheduler)
	instagramService := service.NewInstagramService(cfg, socialAccountRepo)
	tiktokService := service.NewTiktokService(cfg, socialAccountRepo)
	youtubeService := service.NewYoutubeService(cfg, socialAccountRepo)
	linkedinService := service.NewLinkedinService(cfg, socialAccountRepo)
	blueskyService := service.NewBlueskyService(cfg, socialAccountRepo)
	settingsService := service.NewSettingsService(settingsRepo)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)

	authMiddleware := middleware.NewAuthMiddleware(cfg, apiKeyService)

	auth := handlers.NewAuthHandler(cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	platform := handlers.NewPlatformHandler(platformService, instagramService, tiktokService, youtubeService, linkedinService, blueskyService, cfg)
	app.Get("/auth/:platform", platform.AddSocialAccount)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	settings := handlers.NewSettingsHandler(settingsService)
	api.Get("/settings/info", settings.GetSettingsInfo)
	api.Post("/settings/update", settings.UpdateSettings)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/remove", post.RemovePost)

	// social accounts api routes
	api.Get("/accounts", platform.ListSocialAccounts)
	api.Post("/accounts/remove", platform.DeleteSocialAccount)
	api.Post("/accounts/refresh", platform.RefreshSocialAccount)
	api.Post("/accounts/bluesky", platform.ConnectBluesky)

	// recurring work lands on the queues so only one handler runs it even
	// with several processes on the same Redis
	if err := scheduler.ScheduleRecurringRefreshSweep(cfg.Schedules.RefreshSweepCron); err != nil {
		log.Fatalf("Invalid refresh sweep schedule: %v", err)
	}
	if err := scheduler.ScheduleRecurringPoll(cfg.Schedules.StatusPollCron); err != nil {
		log.Fatalf("Invalid status poll schedule: %v", err)
	}
	scheduler.StartRecurring()

	// catch credentials that expired while the process was down
	if err := scheduler.TriggerRefreshSweep(context.Background()); err != nil {
		log.Printf("Failed to enqueue startup refresh sweep: %v", err)
	}

	log.Println("Starting the Asynq servers...")
	if err := servers.Start(); err != nil {
		log.Fatalf("Could not start Asynq servers: %v", err)
	}

	go metrics.Serve(cfg.MetricsAddr)

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db, servers, scheduler)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, servers *queue.Servers, scheduler *queue.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	scheduler.StopRecurring()
	servers.Shutdown()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
