package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cryptofolio/internal/models"
)

// Reader is the storage surface the read API serves from.
type Reader interface {
	ValueSeries(ctx context.Context) ([]models.SeriesPoint, error)
	CostBasisSeries(ctx context.Context) ([]models.SeriesPoint, error)
	PortfolioDay(ctx context.Context, date time.Time) ([]models.HoldingSnapshot, error)
}

// Runner triggers a full pipeline run.
type Runner interface {
	Run(ctx context.Context) error
}

type Handler struct {
	store    Reader
	pipeline Runner
	log      *logrus.Logger
}

func NewHandler(store Reader, pipeline Runner, log *logrus.Logger) *Handler {
	return &Handler{store: store, pipeline: pipeline, log: log}
}

func (h *Handler) GetValueSeries(c *gin.Context) {
	points, err := h.store.ValueSeries(c.Request.Context())
	if err != nil {
		h.log.Errorf("value series read failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"series": points})
}

func (h *Handler) GetCostBasisSeries(c *gin.Context) {
	points, err := h.store.CostBasisSeries(c.Request.Context())
	if err != nil {
		h.log.Errorf("cost basis series read failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"series": points})
}

func (h *Handler) GetPortfolioDay(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	rows, err := h.store.PortfolioDay(c.Request.Context(), date)
	if err != nil {
		h.log.Errorf("portfolio day read failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format("2006-01-02"), "positions": rows})
}

// RunSync executes the full pipeline inline. Long-running by design;
// the scheduled run covers normal operation and this endpoint exists
// for manual refreshes.
func (h *Handler) RunSync(c *gin.Context) {
	if err := h.pipeline.Run(c.Request.Context()); err != nil {
		h.log.Errorf("manual sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
