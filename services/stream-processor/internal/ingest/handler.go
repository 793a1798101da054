// Package ingest accepts change-record batches pushed over HTTP and reports per-item failures so the
// caller redelivers only those records.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
	"github.com/md-rashed-zaman/feedstream/libs/httpx"
	"github.com/md-rashed-zaman/feedstream/services/stream-processor/internal/processor"
)

// BatchProcessor is satisfied by *processor.Processor.
type BatchProcessor interface {
	Aggregate() string
	Process(ctx context.Context, records []changefeed.ChangeRecord) processor.BatchResult
}

type batchRequest struct {
	Records []changefeed.ChangeRecord `json:"Records"`
}

// batchResponse is the partial-batch response of a stream trigger plus outcome counters.
type batchResponse struct {
	lambdaevents.DynamoDBEventResponse
	Total     int `json:"total"`
	Published int `json:"published"`
	Ignored   int `json:"ignored"`
	Skipped   int `json:"skipped"`
	Unknown   int `json:"unknown"`
}

// ProcessTimeout is the processing deadline for a request bounded by requestTimeout. The last
// tenth is left for writing the failure report before the server gives up on the request.
func ProcessTimeout(requestTimeout time.Duration) time.Duration {
	return requestTimeout - requestTimeout/10
}

type Handler struct {
	processors     map[string]BatchProcessor
	logger         *slog.Logger
	processTimeout time.Duration
}

// New builds the handler. A positive processTimeout bounds each batch; records not reached in time
// are reported back as failures.
func New(logger *slog.Logger, processTimeout time.Duration, processors ...BatchProcessor) *Handler {
	h := &Handler{processors: map[string]BatchProcessor{}, logger: logger, processTimeout: processTimeout}
	for _, p := range processors {
		h.processors[p.Aggregate()] = p
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/streams/{aggregate}/batches", h.ProcessBatch)
}

func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("aggregate")
	proc, ok := h.processors[name]
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "unknown aggregate")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "batch too large")
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ctx := r.Context()
	if h.processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.processTimeout)
		defer cancel()
	}

	res := proc.Process(ctx, req.Records)
	failures := make([]lambdaevents.DynamoDBBatchItemFailure, 0, len(res.Failures)+res.Unprocessed)
	for _, f := range res.Failures {
		failures = append(failures, lambdaevents.DynamoDBBatchItemFailure{ItemIdentifier: f.EventID})
	}
	for _, rec := range req.Records[len(req.Records)-res.Unprocessed:] {
		failures = append(failures, lambdaevents.DynamoDBBatchItemFailure{ItemIdentifier: rec.Identifier()})
	}
	resp := batchResponse{
		DynamoDBEventResponse: lambdaevents.DynamoDBEventResponse{BatchItemFailures: failures},
		Total:                 res.Total,
		Published:             res.Published,
		Ignored:               res.Ignored,
		Skipped:               res.Skipped,
		Unknown:               res.Unknown,
	}

	status := http.StatusOK
	if err := res.Err(); err != nil {
		h.logger.Error("batch not settled", "aggregate", name, "failed", len(res.Failures), "unprocessed", res.Unprocessed, "err", err)
		if errors.Is(err, processor.ErrBatchFailed) {
			status = http.StatusServiceUnavailable
		}
	}
	httpx.WriteJSON(w, status, resp)
}
