package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	"github.com/smallbiznis/dairyroute/internal/auth"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/config"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	"github.com/smallbiznis/dairyroute/internal/observability"
	obsmiddleware "github.com/smallbiznis/dairyroute/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dairyroute/internal/observability/metrics"
	obstracing "github.com/smallbiznis/dairyroute/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/dairyroute/internal/payment/domain"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	"github.com/smallbiznis/dairyroute/internal/ratelimit"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the REST API. Domain modules are supplied by the binary.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsConfig(cfg config.Config) cors.Config {
	out := cors.DefaultConfig()
	out.AllowHeaders = append(out.AllowHeaders, "Authorization", "X-Request-Id")
	out.ExposeHeaders = []string{"X-Request-Id", "Retry-After"}
	if len(cfg.CORSAllowedOrigins) == 0 || slices.Contains(cfg.CORSAllowedOrigins, "*") {
		out.AllowAllOrigins = true
		return out
	}
	out.AllowOrigins = cfg.CORSAllowedOrigins
	out.AllowCredentials = true
	return out
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	clock           clock.Clock
	planning        *config.PlanningConfigHolder
	verifier        *auth.TokenVerifier
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	userSvc         userdomain.Service
	productSvc      productdomain.Service
	subscriptionSvc subscriptiondomain.Service
	orderSvc        orderdomain.Service
	deliverySvc     deliverydomain.Service
	routeSvc        routedomain.Service
	invoiceSvc      invoicedomain.Service
	ledgerSvc       ledgerdomain.Service
	paymentSvc      paymentdomain.Service
	writeLimiter    *ratelimit.WriteLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Clock           clock.Clock
	Planning        *config.PlanningConfigHolder `optional:"true"`
	Verifier        *auth.TokenVerifier
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	UserSvc         userdomain.Service
	ProductSvc      productdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	OrderSvc        orderdomain.Service
	DeliverySvc     deliverydomain.Service
	RouteSvc        routedomain.Service
	InvoiceSvc      invoicedomain.Service
	LedgerSvc       ledgerdomain.Service
	PaymentSvc      paymentdomain.Service
	WriteLimiter    *ratelimit.WriteLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		clock:           clk,
		planning:        p.Planning,
		verifier:        p.Verifier,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		userSvc:         p.UserSvc,
		productSvc:      p.ProductSvc,
		subscriptionSvc: p.SubscriptionSvc,
		orderSvc:        p.OrderSvc,
		deliverySvc:     p.DeliverySvc,
		routeSvc:        p.RouteSvc,
		invoiceSvc:      p.InvoiceSvc,
		ledgerSvc:       p.LedgerSvc,
		paymentSvc:      p.PaymentSvc,
		writeLimiter:    p.WriteLimiter,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerCustomerRoutes()
	s.registerAdminRoutes()
	s.registerAgentRoutes()
	s.registerWebhookRoutes()
}

func (s *Server) registerCustomerRoutes() {
	api := s.engine.Group("")
	api.Use(s.AuthRequired())
	api.Use(s.RequireRole(orgcontext.RoleCustomer, orgcontext.RoleAdmin))

	api.GET("/me", s.GetMe)

	// -------- Addresses --------
	api.GET("/addresses", s.authorize(authorization.ObjectAddress, authorization.ActionView), s.ListAddresses)
	api.POST("/addresses", s.authorize(authorization.ObjectAddress, authorization.ActionManage), s.CreateAddress)

	// -------- Catalog --------
	api.GET("/products", s.authorize(authorization.ObjectProduct, authorization.ActionView), s.ListProducts)

	// -------- Subscriptions --------
	api.GET("/subscriptions", s.authorize(authorization.ObjectSubscription, authorization.ActionView), s.ListSubscriptions)
	api.POST("/subscriptions", s.authorize(authorization.ObjectSubscription, authorization.ActionCreate), s.CreateSubscription)
	api.GET("/subscriptions/:id", s.authorize(authorization.ObjectSubscription, authorization.ActionView), s.GetSubscriptionByID)
	api.PUT("/subscriptions/:id", s.authorize(authorization.ObjectSubscription, authorization.ActionUpdate), s.UpdateSubscription)

	// -------- Orders --------
	api.GET("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.ListOrders)
	api.POST("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionCreate), s.CreateOrder)
	api.GET("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.GetOrderByID)
	api.POST("/orders/:id/cancel", s.authorize(authorization.ObjectOrder, authorization.ActionOrderCancel), s.CancelOrder)

	// -------- Invoices --------
	api.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListInvoices)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.GetInvoiceByID)
	api.GET("/invoices/:id/pdf", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.RenderInvoicePDF)

	// -------- Wallet --------
	api.GET("/wallet", s.authorize(authorization.ObjectWallet, authorization.ActionView), s.GetWallet)
	api.GET("/wallet/entries", s.authorize(authorization.ObjectWallet, authorization.ActionView), s.ListWalletEntries)
	api.POST("/wallet/topups", s.authorize(authorization.ObjectWallet, authorization.ActionWalletTopup), s.WriteRateLimit("wallet_topup"), s.InitiateTopup)
	api.POST("/wallet/topups/verify", s.authorize(authorization.ObjectWallet, authorization.ActionWalletTopup), s.VerifyTopup)
	api.GET("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.ListPayments)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())
	admin.Use(s.RequireRole(orgcontext.RoleAdmin))

	// -------- Users --------
	admin.POST("/users", s.authorize(authorization.ObjectUser, authorization.ActionManage), s.CreateUser)
	admin.GET("/users/:id", s.authorize(authorization.ObjectUser, authorization.ActionView), s.GetUserByID)
	admin.GET("/users/:id/addresses", s.authorize(authorization.ObjectAddress, authorization.ActionView), s.ListUserAddresses)
	admin.POST("/addresses", s.authorize(authorization.ObjectAddress, authorization.ActionManage), s.CreateAddress)
	admin.GET("/agents", s.authorize(authorization.ObjectUser, authorization.ActionView), s.ListAgents)
	admin.PUT("/agents/:id/availability", s.authorize(authorization.ObjectUser, authorization.ActionUpdate), s.SetAgentAvailability)

	// -------- Catalog --------
	admin.GET("/products", s.authorize(authorization.ObjectProduct, authorization.ActionView), s.ListProducts)
	admin.POST("/products", s.authorize(authorization.ObjectProduct, authorization.ActionCreate), s.CreateProduct)
	admin.GET("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionView), s.GetProductByID)
	admin.PUT("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionUpdate), s.UpdateProduct)

	// -------- Subscriptions --------
	admin.GET("/subscriptions", s.authorize(authorization.ObjectSubscription, authorization.ActionView), s.ListSubscriptions)
	admin.POST("/subscriptions", s.authorize(authorization.ObjectSubscription, authorization.ActionCreate), s.CreateSubscription)
	admin.GET("/subscriptions/:id", s.authorize(authorization.ObjectSubscription, authorization.ActionView), s.GetSubscriptionByID)
	admin.PUT("/subscriptions/:id", s.authorize(authorization.ObjectSubscription, authorization.ActionUpdate), s.UpdateSubscription)

	// -------- Orders --------
	admin.GET("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.ListOrders)
	admin.GET("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.GetOrderByID)
	admin.PUT("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionOrderUpdateStatus), s.UpdateOrderStatus)

	// -------- Deliveries --------
	admin.GET("/deliveries", s.authorize(authorization.ObjectDelivery, authorization.ActionView), s.ListDeliveries)
	admin.POST("/deliveries/materialize", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryMaterialize), s.MaterializeDeliveries)
	admin.PUT("/deliveries/:id", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryUpdateStatus), s.UpdateDeliveryStatus)

	// -------- Routes --------
	admin.POST("/routes/plan", s.authorize(authorization.ObjectRoute, authorization.ActionRoutePlan), s.PlanRoutes)
	admin.GET("/routes", s.authorize(authorization.ObjectRoute, authorization.ActionView), s.ListRoutes)
	admin.GET("/routes/:id", s.authorize(authorization.ObjectRoute, authorization.ActionView), s.GetRouteByID)
	admin.POST("/routes/:id/start", s.authorize(authorization.ObjectRoute, authorization.ActionRouteUpdate), s.StartRoute)
	admin.POST("/routes/:id/complete", s.authorize(authorization.ObjectRoute, authorization.ActionRouteUpdate), s.CompleteRoute)
	admin.POST("/routes/:id/cancel", s.authorize(authorization.ObjectRoute, authorization.ActionRouteUpdate), s.CancelRoute)
	admin.PUT("/route-stops/:id/reassign", s.authorize(authorization.ObjectRoute, authorization.ActionRouteUpdate), s.ReassignStop)

	// -------- Billing --------
	admin.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListInvoices)
	admin.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.GetInvoiceByID)
	admin.GET("/invoices/:id/pdf", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.RenderInvoicePDF)
	admin.POST("/invoices/generate", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceGenerate), s.GenerateInvoices)
	admin.POST("/invoices/:id/void", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceVoid), s.VoidInvoice)
	admin.GET("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.ListPayments)
	admin.POST("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRecord), s.RecordPayment)
	admin.GET("/ledger/:user_id", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.GetUserLedger)
	admin.POST("/ledger/:user_id/verify", s.authorize(authorization.ObjectLedger, authorization.ActionLedgerVerify), s.VerifyUserLedger)
	admin.POST("/ledger/adjustments", s.authorize(authorization.ObjectWallet, authorization.ActionWalletAdjust), s.AdjustWallet)

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerAgentRoutes() {
	agent := s.engine.Group("/agent")
	agent.Use(s.AuthRequired())
	agent.Use(s.RequireRole(orgcontext.RoleAgent))

	agent.GET("/route/today", s.authorize(authorization.ObjectRoute, authorization.ActionView), s.GetAgentRouteToday)
	agent.GET("/deliveries/today", s.authorize(authorization.ObjectDelivery, authorization.ActionView), s.ListAgentDeliveriesToday)
	agent.PUT("/deliveries/:id", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryUpdateStatus), s.WriteRateLimit("agent_update"), s.UpdateDeliveryStatus)
	agent.PUT("/stops/:id", s.authorize(authorization.ObjectRoute, authorization.ActionRouteStopUpdate), s.WriteRateLimit("agent_update"), s.UpdateStop)
	agent.PUT("/availability", s.authorize(authorization.ObjectUser, authorization.ActionUpdate), s.SetOwnAvailability)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

// today is the current calendar day in the tenant timezone.
func (s *Server) today() time.Time {
	return clock.StartOfDay(s.clock.Now(), s.cfg.Location())
}
