package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/lingo/internal/cache"
	"horse.fit/lingo/internal/gateway"
	"horse.fit/lingo/internal/quota"
	"horse.fit/lingo/internal/resilience"
	"horse.fit/lingo/internal/telemetry"
	"horse.fit/lingo/internal/translation"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	gateway  *gateway.Gateway
	governor *quota.Governor
	cache    *cache.Cache
	res      *resilience.Controller
	tel      *telemetry.Collector
	registry *prometheus.Registry
	logger   zerolog.Logger
	opts     Options
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
	Priority   string `json:"priority,omitempty"`
	TimeoutMs  int    `json:"timeout_ms,omitempty"`
	Category   string `json:"category,omitempty"`
	TextType   string `json:"text_type,omitempty"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	SourceLang  string `json:"source_lang,omitempty"`
	TargetLang  string `json:"target_lang"`
	Degraded    bool   `json:"degraded,omitempty"`
}

func NewServer(gw *gateway.Gateway, governor *quota.Governor, responseCache *cache.Cache, controller *resilience.Controller, collector *telemetry.Collector, registry *prometheus.Registry, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8160
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		gateway:  gw,
		governor: governor,
		cache:    responseCache,
		res:      controller,
		tel:      collector,
		registry: registry,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.gateway == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.POST("/translate", s.handleTranslate)
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/usage", s.handleUsage)

	if s.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("lingo api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("lingo api server stopped")
	return nil
}

func (s *Server) handleTranslate(c echo.Context) error {
	var req translateRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}

	fieldErrors := map[string]string{}
	if strings.TrimSpace(req.Text) == "" {
		fieldErrors["text"] = "is required"
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		fieldErrors["target_lang"] = "is required"
	}
	if req.TimeoutMs < 0 {
		fieldErrors["timeout_ms"] = "must not be negative"
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	result := s.gateway.Translate(c.Request().Context(), gateway.Request{
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Priority:   gateway.ParsePriority(req.Priority),
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		Category:   req.Category,
		TextType:   req.TextType,
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return s.translationError(c, res.Err)
		}
		return success(c, translateResponse{
			Translation: res.Text,
			SourceLang:  req.SourceLang,
			TargetLang:  req.TargetLang,
			Degraded:    res.Degraded,
		})
	case <-c.Request().Context().Done():
		return fail(c, http.StatusGatewayTimeout, "request cancelled", nil)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	report := s.res.EvaluateHealth(c.Request().Context())
	status := http.StatusOK
	if report.Overall == resilience.GradeCritical {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, jsendResponse{
		Status: "success",
		Data: map[string]any{
			"service": "lingo",
			"overall": report.Overall,
			"checked": report.At,
			"details": report.Services,
		},
	})
}

func (s *Server) handleStats(c echo.Context) error {
	return success(c, map[string]any{
		"gateway":   s.gateway.Stats(),
		"cache":     s.cache.Stats(),
		"telemetry": s.tel.Report(c.Request().Context()),
		"alerts":    s.tel.AlertHistory(),
	})
}

func (s *Server) handleUsage(c echo.Context) error {
	snapshot, err := s.governor.Usage(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load usage snapshot failed")
		return internalError(c, "Failed to load usage")
	}
	return success(c, snapshot)
}

// translationError maps a classified translation error to an HTTP response.
func (s *Server) translationError(c echo.Context, err error) error {
	var terr *translation.Error
	if !errors.As(err, &terr) {
		s.logger.Error().Err(err).Msg("unclassified translation failure")
		return internalError(c, "Translation failed")
	}

	status := statusForKind(terr.Kind)
	if terr.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", int(terr.RetryAfter.Seconds())))
	}
	if status >= 500 {
		s.logger.Error().Err(terr).Str("kind", string(terr.Kind)).Msg("translation failed")
	}
	return fail(c, status, terr.Message, map[string]any{
		"kind":      terr.Kind,
		"service":   terr.Service,
		"retryable": terr.Kind.Retryable(),
	})
}

func statusForKind(kind translation.Kind) int {
	switch kind {
	case translation.KindInvalidRequest:
		return http.StatusBadRequest
	case translation.KindTextTooLong:
		return http.StatusRequestEntityTooLarge
	case translation.KindUnauthorized:
		return http.StatusUnauthorized
	case translation.KindForbidden:
		return http.StatusForbidden
	case translation.KindRateLimited, translation.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case translation.KindTimeout:
		return http.StatusGatewayTimeout
	case translation.KindServiceUnavailable, translation.KindCache:
		return http.StatusServiceUnavailable
	case translation.KindParsing:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
