package ingress

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(handler *WebhookHandler) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", health)

	webhook := engine.Group("/webhook/anura")
	webhook.GET("/health", health)
	webhook.POST("", RequireAPIKey(config.Conf.WebhookAPIKey), handler.Handle)

	return &Server{
		httpServer: &http.Server{
			Addr:         config.Conf.HTTPListenAddr,
			Handler:      engine,
			ReadTimeout:  time.Duration(config.Conf.HTTPReadTimeout) * time.Second,
			WriteTimeout: time.Duration(config.Conf.HTTPWriteTimeout) * time.Second,
		},
	}
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	logging.Logger.Info("start webhook server", zap.String("addr", s.httpServer.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Logger.Error("webhook server failed", zap.String("error", err.Error()))
		return err
	}

	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(config.Conf.HTTPShutdownTimeout)*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
