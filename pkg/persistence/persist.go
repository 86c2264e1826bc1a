package persistence

import (
	"context"
	"fmt"

	"agentkit/pkg/history"
	"agentkit/pkg/logx"
	"agentkit/pkg/utils"
)

// Request is a queued database operation handled by Worker.
type Request struct {
	Data      any          `json:"data"`
	Response  chan<- error `json:"-"` // nil for fire-and-forget writes
	Operation string       `json:"operation"`
}

// Operation constants for Request.
const (
	OpSaveHistory         = "save_history"
	OpAddUsage            = "add_usage"
	OpUpdateSessionStatus = "update_session_status"
)

// SaveHistoryRequest carries a history copy taken on the caller's goroutine.
type SaveHistoryRequest struct {
	History   *history.History
	SessionID string
}

// AddUsageRequest adds token counts to a session.
type AddUsageRequest struct {
	SessionID        string
	PromptTokens     int64
	CompletionTokens int64
}

// UpdateSessionStatusRequest changes a session's status.
type UpdateSessionStatusRequest struct {
	SessionID string
	Status    string
}

// PersistHistory queues a snapshot of h. History is not safe for concurrent
// use, so the worker receives a copy.
func PersistHistory(sessionID string, h *history.History, persistenceChannel chan<- *Request) {
	if persistenceChannel == nil || h == nil || sessionID == "" {
		return
	}
	persistenceChannel <- &Request{
		Operation: OpSaveHistory,
		Data:      &SaveHistoryRequest{SessionID: sessionID, History: h.Copy()},
	}
}

// PersistUsage queues a token usage update.
func PersistUsage(sessionID string, promptTokens, completionTokens int64, persistenceChannel chan<- *Request) {
	if persistenceChannel == nil || sessionID == "" {
		return
	}
	persistenceChannel <- &Request{
		Operation: OpAddUsage,
		Data:      &AddUsageRequest{SessionID: sessionID, PromptTokens: promptTokens, CompletionTokens: completionTokens},
	}
}

// PersistSessionStatus queues a status change.
func PersistSessionStatus(sessionID, status string, persistenceChannel chan<- *Request) {
	if persistenceChannel == nil || sessionID == "" {
		return
	}
	persistenceChannel <- &Request{
		Operation: OpUpdateSessionStatus,
		Data:      &UpdateSessionStatusRequest{SessionID: sessionID, Status: status},
	}
}

// Worker serializes writes from many goroutines onto one connection.
type Worker struct {
	ops    *DatabaseOperations
	logger *logx.Logger
}

// NewWorker creates a worker over ops.
func NewWorker(ops *DatabaseOperations) *Worker {
	return &Worker{ops: ops, logger: logx.NewLogger("persistence-worker")}
}

// Run processes requests until the channel is closed or ctx is done.
// Fire-and-forget failures are logged; requests with a Response channel get the error back.
func (w *Worker) Run(ctx context.Context, requests <-chan *Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			err := w.handle(ctx, req)
			if req.Response != nil {
				req.Response <- err
				continue
			}
			if err != nil {
				w.logger.Error("Persistence request %s failed: %v", req.Operation, err)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, req *Request) error {
	what := "data for " + req.Operation
	switch req.Operation {
	case OpSaveHistory:
		data, err := utils.AssertAs[*SaveHistoryRequest](req.Data, what)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		snap, err := w.ops.SaveHistory(ctx, data.SessionID, data.History)
		if err != nil {
			return err
		}
		w.logger.Debug("Saved history snapshot %d for %s (%d messages)", snap.ID, snap.SessionID, snap.MessageCount)
		return nil
	case OpAddUsage:
		data, err := utils.AssertAs[*AddUsageRequest](req.Data, what)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		return w.ops.AddUsage(ctx, data.SessionID, data.PromptTokens, data.CompletionTokens)
	case OpUpdateSessionStatus:
		data, err := utils.AssertAs[*UpdateSessionStatusRequest](req.Data, what)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		return w.ops.UpdateSessionStatus(ctx, data.SessionID, data.Status)
	default:
		return fmt.Errorf("unknown persistence operation: %s", req.Operation)
	}
}
