package server

import (
	"context"
	"net/http"
	"time"

	"booking-payments/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthChecker reports dependency health; database.Service satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// Server is the HTTP adapter over the payment service.
type Server struct {
	payments service.PaymentService
	health   HealthChecker
	log      *zap.Logger
	router   *gin.Engine
}

func NewServer(payments service.PaymentService, health HealthChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	s := &Server{
		payments: payments,
		health:   health,
		log:      log,
		router:   router,
	}

	router.GET("/health", s.handleHealth)

	pg := router.Group("/payments")
	{
		pg.POST("", s.handleCreate)
		pg.GET("", s.handleList)
		pg.POST("/confirm", s.handleConfirm)
		pg.GET("/:id", s.handleGet)
		pg.DELETE("/:id", s.handleDelete)
		pg.POST("/:id/initiate", s.handleInitiate)
		pg.POST("/:id/mark-paid", s.handleMarkPaid)
		pg.POST("/:id/refund", s.handleRefund)
	}
	router.GET("/students/:studentId/payments/summary", s.handleSummary)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}
