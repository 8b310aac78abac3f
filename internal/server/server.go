// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/capture"
	"github.com/adlook/placement-analyzer/internal/export"
	"github.com/adlook/placement-analyzer/internal/model"
	"github.com/adlook/placement-analyzer/internal/probe"
	"github.com/adlook/placement-analyzer/internal/store"
	"github.com/adlook/placement-analyzer/internal/urlnorm"
	"github.com/adlook/placement-analyzer/internal/vision"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// apiKeyHeader lets a caller override the configured inference credential per
// request.
const apiKeyHeader = "X-OpenAI-Key"

type AnalysisRunner interface {
	Run(ctx context.Context, rawURL, apiKey string) (*model.AnalysisResult, error)
}

type ScreenshotTaker interface {
	Capture(ctx context.Context, target model.NormalizedURL) (*model.CaptureResult, error)
}

type Server struct {
	pipeline AnalysisRunner
	capturer ScreenshotTaker
	store    store.AnalysisStore
	cfg      *config.Config
	log      *slog.Logger
}

func New(pipeline AnalysisRunner, capturer ScreenshotTaker, st store.AnalysisStore,
	cfg *config.Config, log *slog.Logger) *Server {
	return &Server{pipeline: pipeline, capturer: capturer, store: st, cfg: cfg, log: log}
}

func (s *Server) Router() *gin.Engine {
	if s.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:              []string{"*"},
		AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:              []string{"Content-Type", apiKeyHeader},
		OptionsResponseStatusCode: http.StatusOK,
	}))
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, model.ErrorResponse{Error: "Method not allowed"})
	})

	r.POST("/analyze", s.handleAnalyze)
	r.POST("/screenshot", s.handleScreenshot)
	r.GET("/analysis/:id", s.handleGetAnalysis)
	r.DELETE("/analysis/:id", s.handleDeleteAnalysis)
	r.GET("/export-docx/:id", s.handleExportDocx)
	r.GET("/export-pdf/:id", s.handleExportPDF)
	r.GET("/health", s.handleHealth)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request handled.",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}

type analyzeRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	req, ok := s.decodeURLRequest(c)
	if !ok {
		return
	}

	apiKey := c.GetHeader(apiKeyHeader)
	if apiKey == "" && s.cfg.OpenAISettings.APIKey == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Inference API credential is not configured"})
		return
	}

	result, err := s.pipeline.Run(c.Request.Context(), req.URL, apiKey)
	if err != nil {
		status, message := classifyError(err)
		s.log.Error("analysis failed.", slog.String("url", req.URL), slog.Int("status", status),
			slog.String("err", err.Error()))
		c.JSON(status, model.ErrorResponse{Error: message})
		return
	}

	result.AnalysisID = uuid.NewString()
	s.store.Put(result.AnalysisID, result)

	c.JSON(http.StatusOK, result)
}

type screenshotResponse struct {
	Success    bool               `json:"success"`
	Screenshot string             `json:"screenshot"`
	Metadata   screenshotMetadata `json:"metadata"`
}

type screenshotMetadata struct {
	Attempts             int   `json:"attempts"`
	LoadTimeMs           int64 `json:"load_time_ms"`
	BlockedResourceCount int   `json:"blocked_resource_count"`
}

func (s *Server) handleScreenshot(c *gin.Context) {
	req, ok := s.decodeURLRequest(c)
	if !ok {
		return
	}

	target, err := urlnorm.Normalize(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "The URL appears to be invalid. Please include the full address."})
		return
	}

	captured, err := s.capturer.Capture(c.Request.Context(), target)
	if err != nil {
		status, message := classifyError(err)
		c.JSON(status, model.ErrorResponse{Error: message})
		return
	}

	c.JSON(http.StatusOK, screenshotResponse{
		Success:    true,
		Screenshot: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(captured.ImageBytes),
		Metadata: screenshotMetadata{
			Attempts:             captured.Attempts,
			LoadTimeMs:           captured.LoadTimeMs,
			BlockedResourceCount: captured.BlockedResourceCount,
		},
	})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	result, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Analysis not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteAnalysis(c *gin.Context) {
	if !s.store.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Analysis not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleExportDocx(c *gin.Context) {
	result, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Analysis not found or expired"})
		return
	}
	data, err := export.WriteDocx(result.Proposal)
	if err != nil {
		s.log.Error("docx export failed.", slog.String("id", c.Param("id")),
			slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to generate document"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="proposal-`+c.Param("id")+`.docx"`)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", data)
}

func (s *Server) handleExportPDF(c *gin.Context) {
	result, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Analysis not found or expired"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="proposal-`+c.Param("id")+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", export.WritePDF(result.Proposal))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": s.cfg.ServiceName,
		"version": s.cfg.Version,
	})
}

func (s *Server) decodeURLRequest(c *gin.Context) (analyzeRequest, bool) {
	var req analyzeRequest
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Request body is required"})
		return req, false
	}
	if err := jsoniter.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: `Invalid request body. Please send a JSON object with a "url" field.`})
		return req, false
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "URL is required"})
		return req, false
	}
	return req, true
}

// classifyError maps pipeline errors onto the HTTP status taxonomy: 400 for
// input the user must correct, 504 for unreachable targets and timeouts, 500
// for everything else. Every message is a single human-readable sentence.
func classifyError(err error) (int, string) {
	if errors.Is(err, urlnorm.ErrInvalidURL) {
		return http.StatusBadRequest,
			"The URL appears to be invalid. Please include the full address starting with http:// or https://"
	}
	var unreachable *probe.UnreachableError
	if errors.As(err, &unreachable) {
		return http.StatusGatewayTimeout, unreachable.UserMessage()
	}
	var loadErr *capture.PageLoadError
	if errors.As(err, &loadErr) {
		if probe.Classify(err) == model.FailureTimeout {
			return http.StatusGatewayTimeout,
				"Navigation timed out while loading the website. Please try again in a moment or choose a lighter page."
		}
		return http.StatusInternalServerError, loadErr.UserMessage()
	}
	if errors.Is(err, vision.ErrMissingCredential) {
		return http.StatusBadRequest, "Inference API credential is not configured"
	}
	if errors.Is(err, vision.ErrInvalidAnalysis) {
		return http.StatusInternalServerError,
			"The analysis service returned an unexpected response. Please try again."
	}
	if errors.Is(err, context.DeadlineExceeded) || probe.Classify(err) == model.FailureTimeout {
		return http.StatusGatewayTimeout,
			"The analysis took too long to complete. Please retry or check the URL."
	}
	return http.StatusInternalServerError, "An unexpected error occurred. Please try again."
}
