package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/completion"
	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/mutation"
	"github.com/example/fintrack/internal/security"
)

const defaultOwnerType = "USER"

type messageRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type resultResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Result        completion.Result `json:"result"`
}

type createContainerRequest struct {
	OwnerType     string `json:"owner_type"`
	OwnerID       string `json:"owner_id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Unit          string `json:"unit"`
	CapacityLimit string `json:"capacity_limit"`
	OpeningValue  string `json:"opening_value"`
}

type listContainersResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	Containers    []*container.Container `json:"containers"`
}

type listAdjustmentsResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	ContainerID   string                 `json:"container_id"`
	Adjustments   []*mutation.Adjustment `json:"adjustments"`
}

type reverseTransactionRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
}

type sessionStateResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Session       *completion.Context `json:"session"`
}

func ownerFrom(ownerType, ownerID string) container.Owner {
	if ownerType == "" {
		ownerType = defaultOwnerType
	}
	return container.Owner{Type: ownerType, ID: ownerID}
}

func handleMessage(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Conversation == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "conversation_unavailable")
			return
		}

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		result, err := deps.Conversation.HandleMessage(r.Context(), ownerFrom(req.OwnerType, req.OwnerID), req.SessionID, req.Text)
		if err != nil {
			deps.Logger.Error("message_failed", "error", err, "session_id", req.SessionID)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		status := http.StatusOK
		if result.Kind == completion.KindInvalid {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, r, status, resultResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Result:        result,
		})
	}
}

func handleCreateContainer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Handler == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "handler_unavailable")
			return
		}

		var req createContainerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		var limit *decimal.Decimal
		if req.CapacityLimit != "" {
			d, err := decimal.NewFromString(req.CapacityLimit)
			if err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_capacity_limit")
				return
			}
			limit = &d
		}
		opening := decimal.Zero
		if req.OpeningValue != "" {
			d, err := decimal.NewFromString(req.OpeningValue)
			if err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_opening_value")
				return
			}
			opening = d
		}

		owner := ownerFrom(req.OwnerType, req.OwnerID)
		result, err := deps.Handler.CreateContainer(r.Context(), owner, req.Name, container.Type(req.Type), req.Unit, limit, opening)
		if err != nil {
			deps.Logger.Error("create_container_failed", "error", err, "owner_id", owner.ID)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusCreated, resultResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Result:        result,
		})
	}
}

func handleListContainers(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Containers == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable")
			return
		}

		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "owner_id_required")
			return
		}
		owner := ownerFrom(r.URL.Query().Get("owner_type"), ownerID)

		var (
			containers []*container.Container
			err        error
		)
		if typ := r.URL.Query().Get("type"); typ != "" {
			containers, err = deps.Containers.FindActiveByOwnerAndType(r.Context(), owner, container.Type(typ))
		} else {
			containers, err = deps.Containers.FindActiveByOwner(r.Context(), owner)
		}
		if err != nil {
			deps.Logger.Error("list_containers_failed", "error", err, "owner_id", owner.ID)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, listContainersResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Containers:    containers,
		})
	}
}

func handleListAdjustments(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Audits == nil || deps.Containers == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable")
			return
		}

		id := chi.URLParam(r, "id")
		if _, err := deps.Containers.FindByID(r.Context(), id); err != nil {
			var notFound *container.NotFoundError
			if errors.As(err, &notFound) {
				security.WriteJSONError(w, r, http.StatusNotFound, "container_not_found")
				return
			}
			deps.Logger.Error("load_container_failed", "error", err, "container_id", id)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		adjustments, err := deps.Audits.FindByContainer(r.Context(), id)
		if err != nil {
			deps.Logger.Error("list_adjustments_failed", "error", err, "container_id", id)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, listAdjustmentsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			ContainerID:   id,
			Adjustments:   adjustments,
		})
	}
}

func handleReverseTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Handler == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "handler_unavailable")
			return
		}

		var req reverseTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		id := chi.URLParam(r, "id")
		result, err := deps.Handler.ReverseTransaction(r.Context(), ownerFrom(req.OwnerType, req.OwnerID), id)
		if err != nil {
			deps.Logger.Error("reverse_failed", "error", err, "transaction_id", id)
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		status := http.StatusOK
		if result.Kind == completion.KindInvalid {
			status = http.StatusConflict
		}
		writeJSON(w, r, status, resultResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Result:        result,
		})
	}
}

func handleSessionState(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Handler == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "handler_unavailable")
			return
		}

		sess, err := deps.Handler.SessionState(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, sessionStateResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Session:       sess,
		})
	}
}

func handleAbandonSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Handler == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "handler_unavailable")
			return
		}

		if err := deps.Handler.Abandon(r.Context(), chi.URLParam(r, "id")); err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
