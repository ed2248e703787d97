package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/auth"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/handler"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/metrics"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/middleware"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/presence"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/storage"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/ws"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Auth      *auth.Service
	Directory *service.DirectoryService
	Messages  *service.MessageService
	Admin     *service.AdminService
	Tracker   *presence.Tracker
	Presence  repository.PresenceStore
	Images    *storage.Images
	Hub       *ws.Hub
	Limiter   middleware.Limiter
	RateLimit int
	Health    map[string]handler.Pinger
	Log       *zap.Logger
}

// NewApp returns a fiber app whose errors use the JSON envelope.
func NewApp(bodyLimit int) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "habibi-connection",
		BodyLimit:             bodyLimit,
		ErrorHandler:          handler.ErrorHandler,
		DisableStartupMessage: true,
	})
}

func Register(app *fiber.App, d Deps) {
	app.Use(middleware.Recovery(d.Log))
	app.Use(middleware.Logger(d.Log.Named("http")))

	health := handler.NewHealthHandler(d.Health)
	app.Get("/health", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// WebSocket endpoint
	if d.Hub != nil {
		app.Get("/ws", ws.Upgrade(d.Auth), d.Hub.Handler())
	}

	api := app.Group("/api/v1")
	api.Get("/health", health.Health)

	jwt := middleware.JWT(d.Auth)
	limit := middleware.RateLimit(d.Limiter, d.RateLimit, d.Log.Named("ratelimit"))

	// Auth
	authH := handler.NewAuthHandler(d.Auth, d.Directory)
	authG := api.Group("/auth", limit)
	authG.Post("/signup", authH.SignUp)
	authG.Post("/login", authH.SignIn)
	authG.Post("/password-reset", authH.RequestReset)
	authG.Post("/password-reset/confirm", authH.ConfirmReset)
	authG.Post("/logout", jwt, authH.SignOut)
	authG.Get("/me", jwt, authH.Me)

	// Media is fetched by <img> tags, which carry no bearer token.
	media := handler.NewMediaHandler(d.Images, d.Log.Named("media"))
	api.Get("/media/*", media.Get)

	protected := api.Group("", jwt, limit)
	protected.Post("/media", media.Upload)

	users := handler.NewUserHandler(d.Directory, d.Tracker, d.Presence)
	protected.Get("/users", users.List)
	protected.Put("/users/me", users.SaveProfile)
	protected.Post("/users/me/photo", users.UploadPhoto)
	protected.Get("/users/:id", users.Get)
	protected.Get("/presence", users.Presence)
	protected.Put("/presence/status", users.SetStatus)

	msgs := handler.NewMessageHandler(d.Messages)
	conv := protected.Group("/conversations/:peer")
	conv.Get("/messages", msgs.History)
	conv.Get("/pinned", msgs.Pinned)
	conv.Get("/export", msgs.Export)
	conv.Post("/read", msgs.MarkRead)

	protected.Post("/messages", msgs.Send)
	protected.Patch("/messages/:id", msgs.Edit)
	protected.Delete("/messages/:id", msgs.Delete)
	protected.Post("/messages/:id/reactions", msgs.React)
	protected.Post("/messages/:id/pin", msgs.TogglePin)

	// Admin
	admin := handler.NewAdminHandler(d.Admin)
	adminG := protected.Group("/admin", middleware.AdminOnly())
	adminG.Get("/users", admin.Users)
	adminG.Delete("/users/:id", admin.DeleteUser)
	adminG.Get("/messages", admin.Messages)
	adminG.Delete("/messages/:id", admin.DeleteMessage)
}
