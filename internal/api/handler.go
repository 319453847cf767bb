package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// JobRunner triggers scheduler jobs on demand
type JobRunner interface {
	RunOnce(ctx context.Context, name string) (interface{}, error)
}

// PaymentReader is the read side of the payment store
type PaymentReader interface {
	GetPaymentByID(ctx context.Context, id int64) (*models.PaymentRecord, error)
	ListCartLines(ctx context.Context, ids []int64) ([]models.CartLine, error)
}

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the operator HTTP handlers
type Handler struct {
	jobs     JobRunner
	payments PaymentReader
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler; checks are probed by /ready
func NewHandler(jobs JobRunner, payments PaymentReader, checks map[string]Pinger) *Handler {
	return &Handler{
		jobs:     jobs,
		payments: payments,
		checks:   checks,
		logger:   util.Component("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reconcile/run", h.runJob(worker.JobReconcile))
		v1.POST("/reconcile/sweep", h.runJob(worker.JobSweep))
		v1.GET("/payments/:id", h.getPayment)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency and reports the ones that failed
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// runJob runs a scheduler job synchronously and returns its report. The run
// is detached from request cancellation.
func (h *Handler) runJob(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.jobs.RunOnce(context.WithoutCancel(c.Request.Context()), name)
		switch {
		case errors.Is(err, worker.ErrTickInProgress):
			c.JSON(http.StatusConflict, gin.H{
				"error": "A run is already in progress",
			})
			return
		case err != nil:
			h.logger.Error("Manual job run failed", zap.String("job", name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Run failed",
				"details": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job":    name,
			"report": report,
		})
	}
}

// getPayment returns a payment record with its cart lines
func (h *Handler) getPayment(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payment ID",
		})
		return
	}

	payment, err := h.payments.GetPaymentByID(c.Request.Context(), paymentID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Payment not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load payment",
			"details": err.Error(),
		})
		return
	}

	lines, err := h.payments.ListCartLines(c.Request.Context(), payment.CartIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load cart lines",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment":    payment,
		"cart_lines": lines,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath(), status).
			Observe(time.Since(start).Seconds())
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
	}
}
