package server

import (
	"backend-spinlog/internal/activecard"
	"backend-spinlog/internal/auth"
	"backend-spinlog/internal/config"
	"backend-spinlog/internal/session"
	"backend-spinlog/internal/stream"
	"backend-spinlog/internal/user"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App         *fiber.App
	Cfg         config.Config
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Stream      *stream.Hub
	ActiveCards *activecard.Registry
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:         app,
		Cfg:         cfg,
		DB:          db,
		Redis:       redisClient,
		Stream:      stream.NewHub(redisClient),
		ActiveCards: activecard.NewRegistry(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	adminOnly := auth.JWTMiddleware(s.Cfg.JWTSecret)
	userSvc := user.NewService(s.DB)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.Cfg.AdminPasswordHash))
	user.RegisterRoutes(s.App.Group("/users"), userSvc, adminOnly)
	session.RegisterRoutes(s.App.Group("/sessions"), session.NewService(s.DB, userSvc, s.ActiveCards, s.Stream))
	activecard.RegisterRoutes(s.App.Group("/scan"), s.ActiveCards, s.Stream)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
