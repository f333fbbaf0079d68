package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	calendarsyncdomain "github.com/smallbiznis/dealcadence/internal/calendarsync/domain"
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	"github.com/smallbiznis/dealcadence/internal/config"
	credentialdomain "github.com/smallbiznis/dealcadence/internal/credential/domain"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	"github.com/smallbiznis/dealcadence/internal/observability"
	obsmiddleware "github.com/smallbiznis/dealcadence/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dealcadence/internal/observability/metrics"
	obstracing "github.com/smallbiznis/dealcadence/internal/observability/tracing"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
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

	if obsCfg.Debug() {
		pprof.Register(r)
	}

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	engine         *gin.Engine
	log            *zap.Logger
	opportunitySvc opportunitydomain.Service
	nextCallSvc    nextcalldomain.Service
	cbcTaskSvc     cbctaskdomain.Service
	credentialSvc  credentialdomain.Service
	ingestor       meetingdomain.Ingestor
	calendar       calendarsyncdomain.Importer
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Log            *zap.Logger
	OpportunitySvc opportunitydomain.Service
	NextCallSvc    nextcalldomain.Service
	CBCTaskSvc     cbctaskdomain.Service
	CredentialSvc  credentialdomain.Service
	Ingestor       meetingdomain.Ingestor
	Calendar       calendarsyncdomain.Importer
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		log:            p.Log.Named("http.server"),
		opportunitySvc: p.OpportunitySvc,
		nextCallSvc:    p.NextCallSvc,
		cbcTaskSvc:     p.CBCTaskSvc,
		credentialSvc:  p.CredentialSvc,
		ingestor:       p.Ingestor,
		calendar:       p.Calendar,
	}
	svc.registerAPIRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(OrgScope())

	// -------- Opportunities --------
	api.POST("/opportunities", s.CreateOpportunity)
	api.POST("/opportunities/recalculate", s.RecalculateOpportunities)
	api.GET("/opportunities/:id", s.GetOpportunityByID)
	api.GET("/opportunities/:id/schedule", s.GetOpportunitySchedule)
	api.POST("/opportunities/:id/recalculate", s.RecalculateOpportunity)
	api.PATCH("/opportunities/:id/next-call-date", s.SetNextCallDate)
	api.PATCH("/opportunities/:id/stage", s.ChangeOpportunityStage)

	// -------- CBC tasks --------
	api.POST("/opportunities/:id/cbc-task/sync", s.SyncCBCTask)
	api.POST("/cbc-tasks/:id/complete", s.CompleteCBCTask)

	// -------- Meetings --------
	api.POST("/call-recordings", s.RecordCallRecording)
	api.POST("/notes-sessions", s.RecordNotesSession)
	api.POST("/opportunities/:id/calendar/import", s.ImportCalendar)

	// -------- Credentials --------
	api.PUT("/credentials/:provider", s.StoreCredential)
	api.DELETE("/credentials/:provider", s.RevokeCredential)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
