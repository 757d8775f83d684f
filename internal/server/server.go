// Package server exposes the deep-search tool and the peripheral lookup
// endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kfin-labs/dartdeep/internal/company"
	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/pipeline"
)

// Server wires the HTTP surface. The orchestrator is the only stateful
// dependency; the lookup endpoints are thin passthroughs.
type Server struct {
	echo         *echo.Echo
	orchestrator *pipeline.Orchestrator
	resolver     *company.Resolver
	catalogue    *dart.Client
	logger       *log.Logger
	address      string
}

func New(address string, orch *pipeline.Orchestrator, resolver *company.Resolver, catalogue *dart.Client, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:         e,
		orchestrator: orch,
		resolver:     resolver,
		catalogue:    catalogue,
		logger:       logger,
		address:      address,
	}

	e.HTTPErrorHandler = s.errorHandler
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.POST("/deep_search", s.deepSearch)
	api.GET("/companies", s.companies)
	api.GET("/disclosures", s.disclosures)

	return s
}

func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.address)
	return s.echo.Start(s.address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	s.logger.Printf("http error %d on %s %s: %v", code, c.Request().Method, c.Path(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type deepSearchRequest struct {
	Query   string           `json:"query"`
	Options pipeline.Options `json:"options"`
}

// deepSearch runs the full pipeline. The request context carries the
// client's cancellation straight into every outbound call.
func (s *Server) deepSearch(c echo.Context) error {
	var req deepSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	env := s.orchestrator.DeepSearch(c.Request().Context(), req.Query, req.Options)
	return c.JSON(http.StatusOK, env)
}

// companies resolves a free-text name or ticker to directory candidates.
func (s *Server) companies(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	cands, err := s.resolver.Resolve(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "company directory unavailable")
	}
	if cands == nil {
		cands = []company.Candidate{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"query": q, "candidates": cands})
}

// disclosures is a raw catalogue search passthrough for single-shot use.
func (s *Server) disclosures(c echo.Context) error {
	bgn := c.QueryParam("bgn_de")
	end := c.QueryParam("end_de")
	if bgn == "" || end == "" {
		now := time.Now()
		end = now.Format("20060102")
		bgn = now.AddDate(0, 0, -30).Format("20060102")
	}
	pageNo, _ := strconv.Atoi(c.QueryParam("page_no"))
	detailType := c.QueryParam("doc_type")
	if detailType != "" && !dart.ValidDetailType(detailType) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown doc_type")
	}
	page, err := s.catalogue.Search(c.Request().Context(), dart.SearchParams{
		CorpCode:   c.QueryParam("corp_code"),
		BgnDe:      bgn,
		EndDe:      end,
		DetailType: detailType,
		PageNo:     pageNo,
	})
	if err != nil {
		var apiErr *dart.APIError
		if errors.As(err, &apiErr) {
			return echo.NewHTTPError(http.StatusBadGateway, apiErr.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, "catalogue unavailable")
	}
	if page.Refs == nil {
		page.Refs = []dart.FilingRef{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"page_no":     page.PageNo,
		"total_page":  page.TotalPage,
		"total_count": page.TotalCount,
		"list":        page.Refs,
	})
}
