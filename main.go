package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/redis/go-redis/v9"
	"github.com/yourusername/ember/db"
	"github.com/yourusername/ember/handlers"
	"github.com/yourusername/ember/middleware"
	"github.com/yourusername/ember/models"
	"github.com/yourusername/ember/services"
)

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func maybeSeedAdmin(userRepo models.UserRepositoryInterface) {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminUser := os.Getenv("ADMIN_USERNAME")
	adminPass := os.Getenv("ADMIN_PASSWORD")
	if adminEmail == "" || adminUser == "" || adminPass == "" {
		return
	}
	if _, err := userRepo.GetByEmail(adminEmail); err == nil {
		log.Printf("Admin seed: user %s already exists", adminEmail)
		return
	}
	u := &models.User{Username: adminUser, Email: adminEmail}
	if err := u.HashPassword(adminPass); err != nil {
		log.Printf("Admin seed: failed to hash password: %v", err)
		return
	}
	if err := userRepo.Create(u); err != nil {
		log.Printf("Admin seed: create failed: %v", err)
		return
	}
	log.Printf("Admin seed: created admin %s (@%s)", adminEmail, adminUser)
}

func newStore(cfg services.ServerConfig) services.Store {
	if cfg.RedisAddr == "" {
		log.Printf("No redis address configured, using in-process store")
		return services.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return services.NewRedisStore(client)
}

func main() {
	config, err := services.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := db.Connect(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	userRepo := models.NewUserRepository(db.DB)
	optionsRepo := models.NewOptionsRepository(db.DB)
	userMetaRepo := models.NewUserMetaRepository(db.DB)

	// First-time admin seed (optional)
	maybeSeedAdmin(userRepo)

	store := newStore(config.Server)

	var mailQueue *services.MailQueue
	if config.SMTP.Host != "" {
		mailQueue = services.NewMailQueue(services.NewMailer(config.SMTP))
	}

	resolver := services.NewClientIPResolver(config.Security.ProxyHeaders)
	events := services.NewEventSink(store, mailQueue, config.Security.AdminEmail)
	limiter := services.NewRateLimiter(store, config.Security.RateLimits)
	bans := services.NewBanStore(store, optionsRepo)
	guard := services.NewBruteForceGuard(store, bans, events, resolver)
	monitor := services.NewSessionMonitor(store, userMetaRepo, events, resolver)

	authHandler := handlers.NewAuthHandler(userRepo, guard, monitor)
	actionsHandler := handlers.NewActionsHandler(userRepo)
	securityHandler := handlers.NewSecurityHandler(userRepo, guard, limiter, events)

	app := fiber.New(fiber.Config{
		BodyLimit:    10 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(cors.New())

	// Banned IPs are rejected before anything else runs
	app.Use(middleware.IPBanGate(guard))

	rateLimit := func(action string) fiber.Handler {
		return middleware.RateLimit(limiter, resolver, action)
	}
	protected := middleware.Protected()
	sessionGuard := middleware.SessionGuard(monitor)

	api := app.Group("/api")

	api.Post("/register", rateLimit("registration"), authHandler.Register)
	api.Post("/login", authHandler.Login)
	// Logout skips session validation: it only tears the session down,
	// and an anomalous session should still be allowed to end itself
	api.Post("/logout", protected, authHandler.Logout)
	api.Get("/me", protected, sessionGuard, authHandler.Me)

	// Application actions behind the named-action throttle
	api.Post("/messages", protected, sessionGuard, rateLimit("message_send"), actionsHandler.SendMessage)
	api.Get("/search", protected, sessionGuard, rateLimit("search"), actionsHandler.Search)
	api.Get("/profiles/:username", protected, sessionGuard, rateLimit("profile_view"), actionsHandler.ViewProfile)
	api.Post("/profiles/:username/like", protected, sessionGuard, rateLimit("like_action"), actionsHandler.LikeProfile)
	api.Patch("/me/profile", protected, sessionGuard, rateLimit("profile_update"), actionsHandler.UpdateProfile)
	api.Post("/me/photos", protected, sessionGuard, rateLimit("photo_upload"), actionsHandler.UploadPhoto)

	// Admin security surface (admin check in handler)
	api.Get("/admin/security/stats", protected, sessionGuard, securityHandler.Stats)
	api.Get("/admin/security/events", protected, sessionGuard, securityHandler.Events)
	api.Get("/admin/security/bans", protected, sessionGuard, securityHandler.ListBans)
	api.Post("/admin/security/bans", protected, sessionGuard, securityHandler.CreateBan)
	api.Delete("/admin/security/bans/:ip", protected, sessionGuard, securityHandler.DeleteBan)
	api.Get("/admin/security/rules", protected, sessionGuard, securityHandler.GetRules)
	api.Put("/admin/security/rules/:action", protected, sessionGuard, securityHandler.UpdateRule)
	api.Delete("/admin/security/ratelimits/:action", protected, sessionGuard, securityHandler.ClearRateLimit)

	log.Printf("Server starting on %s", config.Server.ListenAddr)
	log.Fatal(app.Listen(config.Server.ListenAddr))
}
