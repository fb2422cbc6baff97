package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"cloudy/internal/logger"
	"cloudy/internal/metrics"
	"cloudy/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// ErrStopRequested is returned by Server.Run when a client asked the process
// to shut down through POST /stop.
var ErrStopRequested = errors.New("stop requested via API")

type Server struct {
	echo     *echo.Echo
	orch     *Orchestrator
	histRepo *repository.HistoryRepository
	port     int
	stopCh   chan struct{}
}

func NewServer(orch *Orchestrator, histRepo *repository.HistoryRepository, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(metrics.EchoMiddleware())

	s := &Server{
		echo:     e,
		orch:     orch,
		histRepo: histRepo,
		port:     port,
		stopCh:   make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)
	s.echo.GET("/history", s.handleHistory)
	s.echo.GET("/history/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on localhost until ctx is done or /stop is called. If the port
// is taken it returns nil right away and the process runs without it.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		// Another watcher probably owns the port. Syncing does not depend on
		// the status server, so keep going without it.
		logger.Log.Warn("status server disabled, set status_port in .cloudy.yaml to enable it",
			zap.String("addr", addr),
			zap.Error(err))
		return nil
	}
	s.echo.Listener = ln

	errCh := make(chan error, 1)

	go func() {
		logger.Log.Info("status server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case <-s.stopCh:
		runErr = ErrStopRequested
	case err := <-errCh:
		logger.Log.Error("status server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("status server shutdown", zap.Error(err))
	}

	return runErr
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleStop(c echo.Context) error {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.histRepo == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "history is disabled"})
	}

	n := 20
	if raw := c.QueryParam("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
		}
		n = v
	}

	histories, err := s.histRepo.GetRecent(n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}

func (s *Server) handleStats(c echo.Context) error {
	if s.histRepo == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "history is disabled"})
	}

	stats, err := s.histRepo.GetStats()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, stats)
}
