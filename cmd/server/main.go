package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"slate-backend/internal/activity"
	"slate-backend/internal/auth"
	"slate-backend/internal/collections"
	"slate-backend/internal/config"
	"slate-backend/internal/engine"
	"slate-backend/internal/mail"
	"slate-backend/internal/schema"
	"slate-backend/internal/storage"
	"slate-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer st.Close()

	if err := st.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	catalog := schema.NewCatalog(st)
	recorder := activity.NewRecorder(st)
	gateway := engine.NewGateway(st, catalog, recorder)
	collections.RegisterHooks(gateway)

	notifier := mail.New(cfg.Mail)
	files, err := storage.NewFileStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
		AppName:      "slate-backend",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "database": st.Dialect.Name()})
	})

	api := app.Group("/api/1")

	authHandler := auth.NewHandler(st, recorder, notifier, cfg.JWTSecret)
	authHandler.RegisterRoutes(api)

	authMW := auth.NewMiddleware(st, cfg.JWTSecret, time.Duration(cfg.UserCacheTTLSeconds)*time.Second)
	api.Use(authMW.Handler())

	authHandler.RegisterProtectedRoutes(api)
	engine.NewHandler(gateway).RegisterRoutes(api)
	collections.RegisterRoutes(api, collections.Deps{
		Store:    st,
		Catalog:  catalog,
		Gateway:  gateway,
		Recorder: recorder,
		Notifier: notifier,
		Storage:  files,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("listening on %s (%s)", addr, st.Dialect.Name())
	if err := app.Listen(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
