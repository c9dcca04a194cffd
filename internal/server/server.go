package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/smallbiznis/swimreg/internal/account"
	accountdomain "github.com/smallbiznis/swimreg/internal/account/domain"
	"github.com/smallbiznis/swimreg/internal/audit"
	"github.com/smallbiznis/swimreg/internal/authorization"
	"github.com/smallbiznis/swimreg/internal/config"
	"github.com/smallbiznis/swimreg/internal/ledger"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	"github.com/smallbiznis/swimreg/internal/linker"
	linkerdomain "github.com/smallbiznis/swimreg/internal/linker/domain"
	"github.com/smallbiznis/swimreg/internal/notify"
	"github.com/smallbiznis/swimreg/internal/observability"
	obsmiddleware "github.com/smallbiznis/swimreg/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/swimreg/internal/observability/metrics"
	obstracing "github.com/smallbiznis/swimreg/internal/observability/tracing"
	"github.com/smallbiznis/swimreg/internal/payment"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/internal/providers"
	"github.com/smallbiznis/swimreg/internal/ratelimit"
	"github.com/smallbiznis/swimreg/internal/receipt"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"github.com/smallbiznis/swimreg/internal/registration"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewTokenVerifier),
	authorization.Module,
	audit.Module,
	account.Module,
	providers.Module,
	notify.Module,
	payment.Module,
	ledger.Module,
	registration.Module,
	receipt.Module,
	linker.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	tokens          *TokenVerifier
	accountSvc      accountdomain.Service
	authzSvc        authorization.Service
	linkerSvc       linkerdomain.Service
	ledgerSvc       ledgerdomain.Service
	registrationSvc registrationdomain.Service
	receiptSvc      receiptdomain.Service
	webhookSvc      paymentdomain.WebhookService
	publicLimiter   *ratelimit.PublicLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Tokens          *TokenVerifier
	AccountSvc      accountdomain.Service
	AuthzSvc        authorization.Service
	LinkerSvc       linkerdomain.Service
	LedgerSvc       ledgerdomain.Service
	RegistrationSvc registrationdomain.Service
	ReceiptSvc      receiptdomain.Service
	WebhookSvc      paymentdomain.WebhookService
	PublicLimiter   *ratelimit.PublicLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		tokens:          p.Tokens,
		accountSvc:      p.AccountSvc,
		authzSvc:        p.AuthzSvc,
		linkerSvc:       p.LinkerSvc,
		ledgerSvc:       p.LedgerSvc,
		registrationSvc: p.RegistrationSvc,
		receiptSvc:      p.ReceiptSvc,
		webhookSvc:      p.WebhookSvc,
		publicLimiter:   p.PublicLimiter,
		obsMetrics:      p.ObsMetrics,
	}
	if !svc.tokens.Configured() {
		svc.log.Warn("AUTH_JWT_SECRET is empty; authenticated routes will reject every request")
	}

	svc.registerPublicRoutes()
	svc.registerAccountRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.POST("/registrations", s.PublicRateLimit("registrations"), s.OptionalAccount(), s.SubmitRegistration)
	api.POST("/payments/verify", s.PublicRateLimit("payments_verify"), s.VerifyPayment)
	api.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAccountRoutes() {
	api := s.engine.Group("/api", s.AccountRequired())

	api.POST("/accounts/link-registrations", s.LinkRegistrations)
	api.GET("/invoices/:id", s.GetInvoice)
	api.POST("/invoices/:id/pay", s.PayInvoice)
	api.GET("/receipts/:invoiceId/download", s.DownloadReceipt)
	api.GET("/swimmers", s.ListSwimmers)
}
