package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// Server exposes the quarantine dashboard API over HTTP.
type Server struct {
	echo       *echo.Echo
	quarantine core.QuarantineRepository
	incidents  core.IncidentRepository
	blacklist  core.BlacklistRepository
	pipeline   *core.Pipeline
	logger     *zap.Logger
}

// NewServer creates a new API server
func NewServer(
	quarantine core.QuarantineRepository,
	incidents core.IncidentRepository,
	blacklist core.BlacklistRepository,
	pipeline *core.Pipeline,
	logger *zap.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		quarantine: quarantine,
		incidents:  incidents,
		blacklist:  blacklist,
		pipeline:   pipeline,
		logger:     logger,
	}

	e.GET("/healthz", s.health)
	e.GET("/api/quarantine", s.listQuarantine)
	e.GET("/api/quarantine/:id", s.getQuarantine)
	e.POST("/api/quarantine/:id/release", s.resolve(core.StatusReleased))
	e.POST("/api/quarantine/:id/delete", s.resolve(core.StatusDeleted))
	e.POST("/api/quarantine/:id/false-positive", s.resolve(core.StatusFalsePositive))
	e.GET("/api/stats", s.stats)
	e.GET("/api/feedback", s.listFeedback)
	e.GET("/api/activity", s.activity)
	e.GET("/api/incidents/:id", s.getIncident)
	e.GET("/api/blacklist", s.listBlacklist)

	return s
}

// Start serves the API on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("address", addr))
	return s.echo.Start(addr)
}

// Echo exposes the underlying echo instance for tests and shutdown.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	health := s.pipeline.Health()
	status := "ok"
	if health.ScorerDegraded {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          status,
		"scorer":          health.Scorer,
		"scorer_degraded": health.ScorerDegraded,
	})
}

func (s *Server) listQuarantine(c echo.Context) error {
	var status core.QuarantineStatus
	if raw := c.QueryParam("status"); raw != "" {
		status = core.QuarantineStatus(raw)
		if !core.ValidStatus(status) {
			return c.JSON(http.StatusBadRequest, errorBody("unknown status: "+raw))
		}
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody("limit must be a positive integer"))
		}
		limit = parsed
	}

	records, err := s.quarantine.List(c.Request().Context(), status, limit)
	if err != nil {
		s.logger.Error("Failed to list quarantine records", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list quarantine records"))
	}
	if records == nil {
		records = []*core.QuarantineRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) getQuarantine(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid record id"))
	}

	rec, err := s.quarantine.FindByID(c.Request().Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("record not found"))
	}
	if err != nil {
		s.logger.Error("Failed to fetch quarantine record", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch quarantine record"))
	}
	return c.JSON(http.StatusOK, rec)
}

type resolveRequest struct {
	ExpectedStatus string `json:"expected_status"`
	ResolvedBy     string `json:"resolved_by"`
}

// resolve builds a handler moving a record out of quarantine. The caller's
// expected status guards against acting on a record someone else already
// resolved.
func (s *Server) resolve(next core.QuarantineStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid record id"))
		}

		var req resolveRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("malformed request body"))
		}

		expected := core.StatusQuarantined
		if req.ExpectedStatus != "" {
			expected = core.QuarantineStatus(req.ExpectedStatus)
			if !core.ValidStatus(expected) {
				return c.JSON(http.StatusBadRequest, errorBody("unknown expected_status: "+req.ExpectedStatus))
			}
		}
		resolvedBy := req.ResolvedBy
		if resolvedBy == "" {
			resolvedBy = "dashboard"
		}

		rec, err := s.quarantine.Transition(c.Request().Context(), id, expected, next, resolvedBy)
		switch {
		case errors.Is(err, core.ErrNotFound):
			return c.JSON(http.StatusNotFound, errorBody("record not found"))
		case errors.Is(err, core.ErrInvalidStateTransition):
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, core.ErrStaleState):
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		case err != nil:
			s.logger.Error("Failed to transition quarantine record",
				zap.Int64("record_id", id),
				zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorBody("failed to update quarantine record"))
		}

		s.logger.Info("Quarantine record resolved via API",
			zap.Int64("record_id", id),
			zap.String("status", string(next)),
			zap.String("resolved_by", resolvedBy))
		return c.JSON(http.StatusOK, rec)
	}
}

// listFeedback returns resolved false positives, the records a retraining
// run would export.
func (s *Server) listFeedback(c echo.Context) error {
	records, err := s.quarantine.List(c.Request().Context(), core.StatusFalsePositive, 0)
	if err != nil {
		s.logger.Error("Failed to list false positives", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list false positives"))
	}
	if records == nil {
		records = []*core.QuarantineRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.quarantine.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("Failed to compute stats", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to compute stats"))
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) activity(c echo.Context) error {
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody("limit must be a positive integer"))
		}
		limit = parsed
	}

	entries, err := s.quarantine.RecentActivity(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("Failed to fetch recent activity", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch recent activity"))
	}
	if entries == nil {
		entries = []*core.ActivityEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) getIncident(c echo.Context) error {
	inc, err := s.incidents.FindByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, core.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("incident not found"))
	}
	if err != nil {
		s.logger.Error("Failed to fetch incident", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch incident"))
	}
	return c.JSON(http.StatusOK, inc)
}

func (s *Server) listBlacklist(c echo.Context) error {
	entries, err := s.blacklist.All(c.Request().Context())
	if err != nil {
		s.logger.Error("Failed to list blacklist", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to list blacklist"))
	}
	if entries == nil {
		entries = []*core.BlacklistEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
