package agent

import (
	"context"

	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/eventlog"
	"agentkit/pkg/logx"
)

// HookEvents lists every lifecycle event in firing order.
//
//nolint:gochecknoglobals // fixed event list
var HookEvents = []HookEvent{HookCompletionRequest, HookCompletionResponse, HookCompletionError, HookParseError}

// EventWriter persists lifecycle events. *eventlog.Writer implements it.
type EventWriter interface {
	WriteEvent(ev *eventlog.Event) error
}

// EventLogHook returns a hook that writes each event it sees to w.
// Request content is not recorded; responses keep their raw content.
// Write failures are logged and otherwise ignored.
func EventLogHook(w EventWriter, sessionID string, logger *logx.Logger) Hook {
	if logger == nil {
		logger = logx.NewLogger("eventlog")
	}
	return func(ctx context.Context, data HookData) {
		ev := &eventlog.Event{
			SessionID: sessionID,
			AgentID:   logx.AgentIDFrom(ctx),
			Event:     string(data.Event),
			Model:     data.Request.Model,
			Schema:    schemaName(data.Request),
			Messages:  len(data.Request.Messages),
		}
		if data.Event == HookCompletionResponse {
			ev.Content = data.Response.Content
		}
		if data.Err != nil {
			ev.Error = data.Err.Error()
			ev.ErrorType = llmerrors.TypeOf(data.Err).String()
		}
		if err := w.WriteEvent(ev); err != nil {
			logger.Warn("Failed to write %s event: %v", data.Event, err)
		}
	}
}

// RegisterEventLog registers EventLogHook for every lifecycle event.
func (a *Agent[In, Out]) RegisterEventLog(w EventWriter, sessionID string) []HookID {
	hook := EventLogHook(w, sessionID, a.logger)
	ids := make([]HookID, 0, len(HookEvents))
	for _, event := range HookEvents {
		ids = append(ids, a.RegisterHook(event, hook))
	}
	return ids
}
