package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/go-chi/chi/v5"

	"catalogpolicy/internal/reconcile"
	"catalogpolicy/pkg/platform/httputil"
	"catalogpolicy/pkg/requestcontext"
)

// Invoker processes one orchestrator event and returns the outcome it reported.
type Invoker interface {
	Invoke(ctx context.Context, event cfn.Event) reconcile.Outcome
}

type Handler struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewHandler constructs the invocation handler.
func NewHandler(invoker Invoker, logger *slog.Logger) (*Handler, error) {
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{invoker: invoker, logger: logger}, nil
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/invocations", h.HandleInvoke)
}

// HandleInvoke runs one invocation synchronously. The outcome is also delivered
// to the event's ResponseURL when one is set, so the status is always 202.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event, ok := httputil.DecodeJSON[cfn.Event](w, r, h.logger)
	if !ok {
		return
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	out := h.invoker.Invoke(ctx, event)
	httputil.WriteJSON(w, http.StatusAccepted, out)
}

func health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
