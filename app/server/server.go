package server

import (
	"log/slog"
	"time"

	"docrag/app/api"
	"docrag/app/middleware"
	"docrag/service"
	"docrag/store"
	"docrag/types"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Deps are the long-lived objects the HTTP handlers work with.
type Deps struct {
	Config   *types.Config
	Store    store.DBStorer
	Ingestor *service.Ingestor
	Querier  *service.Querier
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
}

func NewServer(deps Deps) *Server {
	return &Server{
		listenAddr: deps.Config.ServerAddr,
		logger:     slog.Default(),
		app:        NewApp(deps),
	}
}

// NewApp wires routes and middleware.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
		// room for the multipart envelope around the file
		BodyLimit:             int(deps.Config.Loader.MaxUploadBytes) + 1<<20,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	var (
		checkHandler    = api.NewCheckHandler(deps.Store)
		configHandler   = api.NewConfigHandler(deps.Config)
		documentHandler = api.NewDocumentHandler(deps.Ingestor)
		requestHandler  = api.NewRequestHandler(deps.Querier)
		check           = app.Group("/check")
		apiv1           = app.Group("/api/v1", middleware.PlugOwner(deps.Config.Owner))
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Get("/config", configHandler.HandleGetConfig)
	apiv1.Post("/documents", documentHandler.HandleUpload)
	apiv1.Get("/documents", documentHandler.HandleList)
	apiv1.Get("/documents/:id", documentHandler.HandleGet)
	apiv1.Delete("/documents/:id", documentHandler.HandleDelete)
	apiv1.Post("/documents/:id/ask", requestHandler.HandleAsk)

	return app
}

func (s *Server) Run() error {
	s.logger.Info("server listening", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

func (s *Server) Stop() {
	if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		s.logger.Error("server shutdown", "err", err)
	}
	s.logger.Info("server stopped")
}
