package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/app"
	iauth "github.com/skyquote/skyquote/internal/auth"
	"github.com/skyquote/skyquote/internal/handlers"
	"github.com/skyquote/skyquote/internal/middleware"
	"github.com/skyquote/skyquote/internal/services"
)

// Deps bundles the constructed services the router wires into handlers.
type Deps struct {
	Enquiries    *services.EnquiryService
	Invites      *services.InviteService
	Applications *services.ApplicationService
	Operators    *services.OperatorService
	Events       *services.EventService
	MagicLinks   *iauth.MagicLinkService
	JWT          *iauth.JWTService
}

func (d Deps) validate() error {
	switch {
	case d.Enquiries == nil:
		return fmt.Errorf("enquiry service must be provided")
	case d.Invites == nil:
		return fmt.Errorf("invite service must be provided")
	case d.Applications == nil:
		return fmt.Errorf("application service must be provided")
	case d.Operators == nil:
		return fmt.Errorf("operator service must be provided")
	case d.Events == nil:
		return fmt.Errorf("event service must be provided")
	case d.MagicLinks == nil:
		return fmt.Errorf("magic link service must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, deps Deps) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(
			middleware.NewMemoryRateStore(),
			cfg.Server.RateLimit.MaxRequests,
			cfg.Server.RateLimit.Window,
		))
	}

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.MagicLinks)
	enquiryHandler := handlers.NewEnquiryHandler(deps.Enquiries, deps.Invites)
	applicationHandler := handlers.NewApplicationHandler(deps.Applications)
	operatorHandler := handlers.NewOperatorHandler(deps.Operators)
	eventHandler := handlers.NewEventHandler(deps.Events)

	// Public intake and confirmation surfaces. Invite opens and backlink
	// confirmations are reached from email links, so they carry their own
	// tokens instead of a session.
	r.POST("/api/enquiries", enquiryHandler.Create)
	r.POST("/api/applications", applicationHandler.Submit)
	r.GET("/i/:id/open", enquiryHandler.TrackInviteOpen)
	r.GET("/pilots/confirm/:id", applicationHandler.ConfirmIntegration)

	auth := r.Group("/api/auth")
	{
		auth.POST("/magic-link", authHandler.RequestMagicLink)
		auth.POST("/redeem", authHandler.Redeem)
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.Auth(deps.JWT))

	admin.GET("/me", authHandler.Me)

	enquiries := admin.Group("/enquiries")
	{
		enquiries.GET("", enquiryHandler.List)
		enquiries.GET("/:id", enquiryHandler.Detail)
		enquiries.POST("/:id/close", enquiryHandler.Close)
		enquiries.POST("/:id/invites", enquiryHandler.DispatchInvites)
		enquiries.GET("/:id/events", eventHandler.ListForEnquiry)
	}

	applications := admin.Group("/applications")
	{
		applications.GET("", applicationHandler.List)
		applications.GET("/:id", applicationHandler.Get)
		applications.POST("/:id/approve", applicationHandler.Approve)
		applications.POST("/:id/reject", applicationHandler.Reject)
		applications.POST("/:id/request-info", applicationHandler.RequestInfo)
		applications.GET("/:id/events", eventHandler.ListForApplication)
	}

	operators := admin.Group("/operators")
	{
		operators.GET("", operatorHandler.List)
		operators.GET("/:id", operatorHandler.Get)
		operators.PATCH("/:id/active", operatorHandler.SetActive)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
