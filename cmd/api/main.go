package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go-evidence/internal/app"
	common_api "go-evidence/internal/common/api"
	"go-evidence/internal/config"
	"go-evidence/internal/features/audit"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/lifecycle"
	"go-evidence/internal/features/notification"
	"go-evidence/internal/features/system"
	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// multipart framing on top of the largest accepted file
const bodyOverhead = 1 << 20

// NewFiberServer creates a new Fiber app instance
func NewFiberServer(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             int(cfg.MaxUploadSize) + bodyOverhead,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			// bodies over BodyLimit never reach the upload handler
			if code == fiber.StatusRequestEntityTooLarge {
				return file.RespondRejection(c, file.NewTooLargeError(cfg.MaxUploadSize))
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	return app
}

// AsRoute tags the constructor so Fx adds it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes calls Setup() on every route in the group.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route, log *zap.Logger) {
	for _, route := range routes {
		log.Debug("Setting up route", zap.String("route", fmt.Sprintf("%T", route)))
		route.Setup(app)
	}
	log.Info("All routes registered", zap.Int("count", len(routes)))
}

var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`, ``),
)

// StartServer starts Fiber in a goroutine and shuts it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				logger.Info("Listening", zap.String("addr", port))
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
}

func main() {
	fx.New(
		app.Core,
		app.Processing,
		fx.Provide(
			NewFiberServer,

			notification.NewNotificationService,

			// Controllers
			file.NewFileController,
			audit.NewAuditController,
			notification.NewNotificationController,
			lifecycle.NewLifecycleController,
			system.NewDebugController,

			// API Routes
			AsRoute(file.NewFileApi),
			AsRoute(audit.NewAuditApi),
			AsRoute(notification.NewNotificationApi),
			AsRoute(lifecycle.NewLifecycleApi),
			AsRoute(system.NewHealthApi),
			AsRoute(system.NewDebugApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			RegisterAllRoutesWithAnnotation,
			StartServer,
			func(lc fx.Lifecycle, lifecycleService lifecycle.LifecycleService) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return lifecycleService.InitializeScheduler(ctx)
					},
					OnStop: func(ctx context.Context) error {
						return lifecycleService.StopScheduler()
					},
				})
			},
		),
	).Run()
}
