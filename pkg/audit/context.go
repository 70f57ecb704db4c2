package audit

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestID returns the request id assigned by the HTTP router, if any.
func RequestID(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// Record logs an event stamped with the request id from ctx. A nil logger
// is ignored.
func Record(ctx context.Context, logger Logger, event *Event) error {
	if logger == nil {
		return nil
	}
	if event.RequestID == "" {
		event.RequestID = RequestID(ctx)
	}
	return logger.Log(ctx, *event)
}
