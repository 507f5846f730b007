package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apiserver/handlers"
	"github.com/bookflow/bookflow/pkg/apiserver/middleware"
	"github.com/bookflow/bookflow/pkg/auth"
	"github.com/bookflow/bookflow/pkg/catalog"
	"github.com/bookflow/bookflow/pkg/config"
	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/store/postgres"
	"github.com/bookflow/bookflow/pkg/workflow"
)

type Server struct {
	router *gin.Engine
	db     *postgres.Store
	hub    *livepush.Hub
	engine *workflow.Engine
	tokens *auth.TokenManager
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(db *postgres.Store, hub *livepush.Hub, cfg *config.Config, logger *zap.Logger) *Server {
	var opts []workflow.Option
	if postgres.IsPostgres(db.DB()) && cfg.Outbox.NotifyChannel != "" {
		opts = append(opts, workflow.WithNotifyChannel(cfg.Outbox.NotifyChannel))
	}

	s := &Server{
		db:     db,
		hub:    hub,
		engine: workflow.NewEngine(db, hub, logger, opts...),
		tokens: auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS(s.cfg.Server.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gdb := s.db.DB()
	users := postgres.NewUserRepository(gdb)
	books := postgres.NewBookRepository(gdb)

	authHandler := handlers.NewAuthHandler(users, s.tokens, s.cfg.Auth, s.logger)
	bookHandler := handlers.NewBookHandler(catalog.NewBookService(books, s.logger), s.logger)
	transitionHandler := handlers.NewTransitionHandler(s.engine, s.logger)
	reviewHandler := handlers.NewReviewHandler(
		catalog.NewReviewService(books, postgres.NewReviewRepository(gdb), s.cfg.Reviews.RatePerMinute, s.cfg.Reviews.Burst, s.logger),
		s.logger,
	)
	notificationHandler := handlers.NewNotificationHandler(postgres.NewNotificationRepository(gdb), s.logger)
	streamHandler := handlers.NewStreamHandler(s.hub, s.cfg.Stream)

	requireUser := middleware.Auth(auth.NewResolver(s.tokens, users), s.cfg.Auth.CookieName)

	public := r.Group("/api")
	{
		public.POST("/auth/login", authHandler.Login)
		public.POST("/auth/logout", authHandler.Logout)
		public.GET("/books/:id/reviews", reviewHandler.List)
	}

	api := r.Group("/api")
	api.Use(requireUser)
	{
		api.GET("/auth/me", authHandler.Me)

		api.GET("/books", bookHandler.List)
		api.POST("/books", bookHandler.Create)
		api.GET("/books/:id", bookHandler.Get)
		api.PUT("/books/:id", bookHandler.Update)
		api.DELETE("/books/:id", bookHandler.Delete)

		api.POST("/books/:id/transition", transitionHandler.Transition)
		for _, action := range workflow.Actions() {
			api.POST("/books/:id/"+string(action), transitionHandler.Action(action))
		}

		api.POST("/books/:id/reviews", reviewHandler.Create)

		api.GET("/notifications", notificationHandler.List)
		api.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		api.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)

		api.GET("/events/stream", streamHandler.Events)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Engine() *workflow.Engine {
	return s.engine
}
