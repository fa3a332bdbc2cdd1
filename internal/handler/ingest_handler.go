package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketnotify/internal/model"
	"marketnotify/internal/service/ingest"
	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

// Ingester runs batches through the notification pipeline
type Ingester interface {
	ProcessBatches(ctx context.Context, batches []model.UserBatch) []ingest.IngestResult
}

// BatchQueue parks batches for the next scheduled monitoring cycle
type BatchQueue interface {
	Enqueue(ctx context.Context, batches ...model.UserBatch) error
	Pending(ctx context.Context) (int64, error)
}

// IngestRequest body of POST /ingest
type IngestRequest struct {
	Batches []model.UserBatch `json:"batches" validate:"required,min=1,max=500"`
}

// IngestHandler accepts market-change batches from the monitoring side
type IngestHandler struct {
	ingester Ingester
	queue    BatchQueue
}

// NewIngestHandler queue may be nil, which disables mode=enqueue.
func NewIngestHandler(ingester Ingester, queue BatchQueue) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		queue:    queue,
	}
}

// Ingest processes the batches inline, or with ?mode=enqueue hands them to the scheduler.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.NewErrorWithErr(utils.CodeInvalidParam, "invalid request body", err))
		return
	}
	if err := validateIngest(&req); err != nil {
		utils.Error(c, err)
		return
	}

	if c.Query("mode") == "enqueue" {
		h.enqueue(c, req.Batches)
		return
	}

	results := h.ingester.ProcessBatches(c.Request.Context(), req.Batches)
	utils.SuccessResponse(c, gin.H{"results": results})
}

func (h *IngestHandler) enqueue(c *gin.Context, batches []model.UserBatch) {
	if h.queue == nil {
		utils.Error(c, utils.NewError(utils.CodeServiceDegraded, "batch queue not configured"))
		return
	}

	ctx := c.Request.Context()
	if err := h.queue.Enqueue(ctx, batches...); err != nil {
		log.WithFields(map[string]interface{}{
			"batches": len(batches),
			"error":   err.Error(),
		}).Error("Failed to enqueue batches")
		utils.Error(c, utils.WrapError(err, utils.CodeRedisError, "failed to enqueue batches"))
		return
	}

	pending, err := h.queue.Pending(ctx)
	if err != nil {
		pending = -1
	}
	c.JSON(http.StatusAccepted, utils.Response{
		Code:    int(utils.CodeSuccess),
		Message: "accepted",
		Data: gin.H{
			"enqueued": len(batches),
			"pending":  pending,
		},
		Timestamp: time.Now().Unix(),
	})
}

// Events are validated one by one during processing so one bad event
// does not sink the batch; only the envelope is checked here.
func validateIngest(req *IngestRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	var fields []string
	for i, b := range req.Batches {
		if b.UserID == "" {
			fields = append(fields, fmt.Sprintf("batches[%d].user_id is required", i))
		}
	}
	if len(fields) > 0 {
		return utils.NewValidationError(fields)
	}
	return nil
}
