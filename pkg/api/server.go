// Package api exposes the HTTP and websocket surface: user,
// subscription, and report management, settings, dashboard stats, and
// the realtime hub entry point.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/config"
	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/realtime"
)

// Store is the persistence surface the handlers call.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateUser(ctx context.Context, u *models.User) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (total, active int64, err error)

	CreateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, ownerID int64, status models.SubscriptionStatus) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error

	ListActivities(ctx context.Context, subscriptionID int64, params models.ActivityListParams) ([]models.Activity, error)
	CountActivitiesByKind(ctx context.Context, subscriptionIDs []int64, from, to time.Time) (map[models.ActivityKind]int, error)

	GetReport(ctx context.Context, id int64) (*models.Report, error)
	ListReports(ctx context.Context, params models.ReportListParams) ([]models.Report, error)
	DeleteReport(ctx context.Context, id int64) error
	CountReports(ctx context.Context, ownerID int64) (map[models.ReportStatus]int, error)
}

// Reports starts the staged report pipeline.
type Reports interface {
	GenerateReport(ctx context.Context, subscriptionID int64, kind models.ReportKind, format models.ReportFormat) (string, *models.Report, error)
}

// Syncer runs one collection pass for an on-demand sync.
type Syncer interface {
	CollectForSubscription(ctx context.Context, sub models.Subscription, window time.Duration) (*models.CollectionResult, error)
}

// Jobs enqueues background one-shots with at-most-one-in-flight keys.
type Jobs interface {
	SubmitOneShot(jobKey, name, kind string, fn func(ctx context.Context) error) error
}

// Hub is the realtime surface the websocket route hands sockets to.
type Hub interface {
	HandleConnection(ctx context.Context, conn *websocket.Conn, userID int64)
	Stats() realtime.Stats
}

// Server wires the handlers to the service layer.
type Server struct {
	cfg     *config.Config
	store   Store
	reports Reports
	syncer  Syncer
	jobs    Jobs
	hub     Hub
	db      *sql.DB
	echo    *echo.Echo
	http    *http.Server
	logger  *slog.Logger

	cfgMu  sync.Mutex
	cfgDir string
}

// NewServer builds the server and registers all routes. db, reports,
// syncer, jobs, and hub may be nil; the corresponding routes degrade to
// 503.
func NewServer(cfg *config.Config, st Store, reports Reports, syncer Syncer, jobs Jobs, hub Hub, db *sql.DB) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		reports: reports,
		syncer:  syncer,
		jobs:    jobs,
		hub:     hub,
		db:      db,
		logger:  slog.With("component", "api"),
	}
	s.echo = s.buildEcho()
	return s
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/websocket/connect", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/health", s.healthHandler)
	v1.GET("/websocket/connect", s.wsHandler)

	authed := v1.Group("", s.requireUser())

	authed.POST("/users", s.createUserHandler)
	authed.GET("/users", s.listUsersHandler)
	authed.GET("/users/stats/count", s.userStatsHandler)
	authed.GET("/users/:id", s.getUserHandler)
	authed.PUT("/users/:id", s.updateUserHandler)
	authed.DELETE("/users/:id", s.deleteUserHandler)

	authed.POST("/subscriptions", s.createSubscriptionHandler)
	authed.GET("/subscriptions", s.listSubscriptionsHandler)
	authed.GET("/subscriptions/:id", s.getSubscriptionHandler)
	authed.PUT("/subscriptions/:id", s.updateSubscriptionHandler)
	authed.DELETE("/subscriptions/:id", s.deleteSubscriptionHandler)
	authed.GET("/subscriptions/:id/activities", s.listActivitiesHandler)
	authed.POST("/subscriptions/:id/sync", s.syncSubscriptionHandler)

	authed.GET("/reports", s.listReportsHandler)
	authed.POST("/reports/generate", s.generateReportHandler)
	authed.GET("/reports/:id", s.getReportHandler)
	authed.DELETE("/reports/:id", s.deleteReportHandler)
	authed.GET("/reports/:id/download", s.downloadReportHandler)

	authed.GET("/settings", s.getSettingsHandler)
	authed.PUT("/settings", s.updateSettingsHandler)

	authed.GET("/dashboard/stats", s.dashboardStatsHandler)

	return e
}

// ServeHTTP makes the server usable as a plain handler in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start runs the HTTP listener until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
