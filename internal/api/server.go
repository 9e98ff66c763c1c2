// Package api exposes the dashboard views as a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/internal/dashboard"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Views builds the dashboard pages. *dashboard.Service implements it.
type Views interface {
	Ponds(ctx context.Context) ([]string, error)
	Main(ctx context.Context, sessionID string) (dashboard.Overview, error)
	Aggregate(ctx context.Context, sessionID string) (dashboard.AggregateView, error)
	Pond(ctx context.Context, sessionID, pond string) (dashboard.PondView, error)
	Config() dashboard.Config
}

// RequestRecorder receives the outcome of every view request.
type RequestRecorder interface {
	RecordRequest(view string, err error, durationSeconds float64)
}

type noopRequestRecorder struct{}

func (noopRequestRecorder) RecordRequest(string, error, float64) {}

// FieldInfo describes a field shown on the dashboard.
type FieldInfo struct {
	Field sensor.Field `json:"field"`
	Label string       `json:"label"`
}

// PondList is the body of GET /api/ponds.
type PondList struct {
	Ponds []string `json:"ponds"`
}

type handlers struct {
	views Views
	rec   RequestRecorder
}

// NewHandler builds the echo router:
//
//	GET /api/ponds          pond names
//	GET /api/overview       latest values and trends of every pond
//	GET /api/aggregate      min/median/max bands across ponds
//	GET /api/ponds/:pond    window and forecast of one pond
//	GET /api/fields         displayed fields and labels
func NewHandler(views Views, log *zap.SugaredLogger, rec RequestRecorder) *echo.Echo {
	if rec == nil {
		rec = noopRequestRecorder{}
	}
	h := &handlers{views: views, rec: rec}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(logRequests(log))

	g := e.Group("/api", sessionMiddleware)
	g.GET("/ponds", h.instrument("ponds", h.ponds))
	g.GET("/overview", h.instrument(dashboard.ViewMain, h.overview))
	g.GET("/aggregate", h.instrument(dashboard.ViewAggregate, h.aggregate))
	g.GET("/ponds/:pond", h.instrument(dashboard.ViewPond, h.pond))
	g.GET("/fields", h.instrument("fields", h.fields))
	return e
}

func (h *handlers) instrument(view string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		h.rec.RecordRequest(view, err, time.Since(start).Seconds())
		return err
	}
}

func (h *handlers) ponds(c echo.Context) error {
	ponds, err := h.views.Ponds(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	if ponds == nil {
		ponds = []string{}
	}
	return c.JSON(http.StatusOK, PondList{Ponds: ponds})
}

func (h *handlers) overview(c echo.Context) error {
	ov, err := h.views.Main(c.Request().Context(), sessionID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ov)
}

func (h *handlers) aggregate(c echo.Context) error {
	view, err := h.views.Aggregate(c.Request().Context(), sessionID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *handlers) pond(c echo.Context) error {
	pond, err := url.PathUnescape(c.Param("pond"))
	if err != nil {
		return badRequest("pond name is not a valid path segment", err)
	}
	view, err := h.views.Pond(c.Request().Context(), sessionID(c), pond)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *handlers) fields(c echo.Context) error {
	fields := h.views.Config().Fields
	out := make([]FieldInfo, len(fields))
	for i, f := range fields {
		out[i] = FieldInfo{Field: f, Label: f.Label()}
	}
	return c.JSON(http.StatusOK, out)
}

func logRequests(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			switch {
			case errors.As(err, &he):
				status = he.Code
			case err != nil:
				status = http.StatusInternalServerError
			}
			fields := []any{
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"duration", time.Since(start),
			}
			switch {
			case status >= http.StatusInternalServerError:
				log.Errorw("request failed", append(fields, "error", err)...)
			case err != nil:
				log.Debugw("request rejected", append(fields, "error", err)...)
			default:
				log.Debugw("request served", fields...)
			}
			return err
		}
	}
}

// Server serves the API until shut down.
type Server struct {
	httpServer *http.Server
}

// NewServer creates an API server listening on addr (e.g., ":8080").
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start begins serving. This is non-blocking.
// Returns a channel that receives an error if the server fails.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
