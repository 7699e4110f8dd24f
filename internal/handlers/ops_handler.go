package handler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/services/loading"
	"fraud-detection-pipeline/internal/services/reporting"
)

// ScoringStatus exposes the scorer's last iteration.
type ScoringStatus interface {
	LastRun() *models.ScoringRun
}

// ReportBuilder renders the daily report for a day.
type ReportBuilder interface {
	BuildReport(ctx context.Context, day time.Time) (string, error)
}

// OpsHandler serves the operational API. Scorer and Loader are optional.
type OpsHandler struct {
	DB          *gorm.DB
	Predictions *repository.PredictionRepository
	Runs        *repository.RunRepository
	Reports     ReportBuilder
	Scorer      ScoringStatus
	Loader      *loading.Service
	ModelName   string
	Location    *time.Location

	// ctx outlives requests; background loads run under it.
	ctx context.Context
}

func NewOpsHandler(ctx context.Context, db *gorm.DB, reports ReportBuilder, loc *time.Location) *OpsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &OpsHandler{
		DB:          db,
		Predictions: repository.NewPredictionRepository(db),
		Runs:        repository.NewRunRepository(db),
		Reports:     reports,
		Location:    loc,
		ctx:         ctx,
	}
}

func (h *OpsHandler) Health(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListPredictions returns fraud predictions, newest first, optionally for one day.
func (h *OpsHandler) ListPredictions(c *gin.Context) {
	var filter repository.PredictionFilter

	if date := c.Query("date"); date != "" {
		day, err := time.ParseInLocation(time.DateOnly, date, h.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		filter.From, filter.To = reporting.DayBounds(day, h.Location)
	}
	filter.Category = c.Query("category")

	if raw := c.Query("min_amount"); raw != "" {
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_amount"})
			return
		}
		filter.MinAmount = amt
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	preds, err := h.Predictions.Search(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(preds), "data": preds})
}

// DailyReport previews the report email for ?date=, yesterday by default.
func (h *OpsHandler) DailyReport(c *gin.Context) {
	day := time.Now().In(h.Location).AddDate(0, 0, -1)
	if date := c.Query("date"); date != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, date, h.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	report, err := h.Reports.BuildReport(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":    day.Format(time.DateOnly),
		"subject": reporting.Subject,
		"report":  report,
	})
}

// LatestRuns reports the last scorer iteration, CSV load and promotion.
func (h *OpsHandler) LatestRuns(c *gin.Context) {
	ctx := c.Request.Context()
	out := gin.H{"scoring": nil, "load": nil, "promotion": nil}

	var scoring *models.ScoringRun
	if h.Scorer != nil {
		scoring = h.Scorer.LastRun()
	}
	if scoring == nil {
		run, err := h.Runs.LatestScoringRun(ctx)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		scoring = run
	}
	if scoring != nil {
		out["scoring"] = scoring
	}

	load, err := h.Runs.LatestLoadBatch(ctx)
	switch {
	case err == nil:
		out["load"] = load
	case !errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.ModelName != "" {
		promotion, err := h.Runs.LatestPromotion(ctx, h.ModelName)
		switch {
		case err == nil:
			out["promotion"] = promotion
		case !errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, out)
}

// UploadCSV stores an uploaded transactions CSV and loads it in the background.
func (h *OpsHandler) UploadCSV(c *gin.Context) {
	if h.Loader == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "loading is not enabled"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}

	// The multipart temp file is removed when the request ends.
	tmp, err := os.CreateTemp("", "upload-*.csv")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tmp.Close()
	if err := c.SaveUploadedFile(header, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	batch, err := h.Loader.Begin(c.Request.Context(), filepath.Base(header.Filename))
	if err != nil {
		os.Remove(tmp.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	go h.processUpload(batch, tmp.Name())

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batch.ID.String(),
		"status":   batch.Status,
	})
}

func (h *OpsHandler) processUpload(batch *models.LoadBatch, path string) {
	defer os.Remove(path)
	logger := appcontext.LoggerFromContext(h.ctx)

	f, err := os.Open(path)
	if err != nil {
		logger.ErrorContext(h.ctx, "failed to open upload", "batch_id", batch.ID, "error", err)
		return
	}
	defer f.Close()

	if _, err := h.Loader.Process(h.ctx, batch, f); err != nil {
		logger.ErrorContext(h.ctx, "upload load failed", "batch_id", batch.ID, "error", err)
	}
}

// GetLoadProgress reports the progress of a CSV load.
func (h *OpsHandler) GetLoadProgress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch ID"})
		return
	}

	batch, err := h.Runs.GetLoadBatch(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch_id":     batch.ID.String(),
		"filename":     batch.Filename,
		"chunks":       batch.ChunkCount,
		"rows":         batch.TotalRows,
		"frauds":       batch.FraudRows,
		"skipped":      batch.SkippedRows,
		"status":       batch.Status,
		"error":        batch.Error,
		"completed_at": batch.CompletedAt,
	})
}
