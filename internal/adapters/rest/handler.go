// Package rest exposes the governance engine over HTTP. Handlers translate
// between the JSON surface and the facade; every engine error maps to a
// transport code through its stable kind.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"govcore/internal/core"
	"govcore/pkg/domain"
)

// UserResolver extracts the acting user from a request. Authentication is
// upstream; the engine only needs an identity and its resolved groups.
type UserResolver interface {
	Resolve(r *http.Request) (domain.User, bool)
}

// HeaderUserResolver trusts identity headers set by the fronting proxy.
type HeaderUserResolver struct{}

// Resolve reads X-User-Id, X-User-Name, and the comma-separated X-User-Groups.
func (HeaderUserResolver) Resolve(r *http.Request) (domain.User, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		return domain.User{}, false
	}
	user := domain.User{ID: id, Name: strings.TrimSpace(r.Header.Get("X-User-Name"))}
	if groups := strings.TrimSpace(r.Header.Get("X-User-Groups")); groups != "" {
		for _, group := range strings.Split(groups, ",") {
			if group = strings.TrimSpace(group); group != "" {
				user.Groups = append(user.Groups, group)
			}
		}
	}
	return user, true
}

// Handler routes the governed document API.
type Handler struct {
	Service *core.Service
	Users   UserResolver
}

// NewHandler constructs a handler with header-based user resolution.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service, Users: HeaderUserResolver{}}
}

const apiPrefix = "/api/v1/"

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "service not configured")
		return
	}
	user, ok := h.Users.Resolve(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	if !strings.HasPrefix(path, apiPrefix) {
		http.NotFound(w, r)
		return
	}
	segments := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")

	if segments[0] == "amendments" {
		h.handleAmendmentAction(w, r, user, segments[1:])
		return
	}

	t := domain.ObjectType(segments[0])
	if _, ok := domain.NewObject(t); !ok {
		http.NotFound(w, r)
		return
	}
	switch len(segments) {
	case 1:
		h.handleCollection(w, r, user, t)
	case 2:
		h.handleDocument(w, r, user, t, segments[1])
	case 3:
		h.handleSubresource(w, r, user, t, segments[1], segments[2], "")
	case 4:
		h.handleSubresource(w, r, user, t, segments[1], segments[2], segments[3])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request, user domain.User, t domain.ObjectType) {
	switch r.Method {
	case http.MethodGet:
		documents, err := h.Service.List(r.Context(), user, t)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
	case http.MethodPost:
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := h.Service.Create(r.Context(), user, t, body.Fields)
		if err != nil {
			writeFailure(w, err)
			return
		}
		document, err := h.Service.Get(r.Context(), user, t, created.Meta().ID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"document": document})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request, user domain.User, t domain.ObjectType, id string) {
	if _, ok := h.Service.Store().Get(t, id); !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		document, err := h.Service.Get(r.Context(), user, t, id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		permissions, err := h.Service.Permissions(r.Context(), user, t, id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		actions, err := h.Service.AvailableTransitions(r.Context(), user, t, id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document":          document,
			"permissions":       permissions,
			"available_actions": actions,
		})
	case http.MethodPatch:
		var body struct {
			Fields      map[string]any `json:"fields"`
			BaseVersion int64          `json:"base_version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		updated, err := h.Service.Patch(r.Context(), user, t, id, body.Fields, body.BaseVersion)
		if err != nil {
			writeFailure(w, err)
			return
		}
		document, err := h.Service.Get(r.Context(), user, t, updated.Meta().ID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": document})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleSubresource(w http.ResponseWriter, r *http.Request, user domain.User, t domain.ObjectType, id, kind, remainder string) {
	if _, ok := h.Service.Store().Get(t, id); !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	switch kind {
	case "history":
		if remainder != "" || r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		filter := domain.ActivityFilter{
			ActorID: r.URL.Query().Get("actor"),
			Action:  domain.Action(r.URL.Query().Get("action")),
		}
		filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
		filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
		entries, total, err := h.Service.History(r.Context(), user, t, id, filter)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
	case "amendments":
		switch r.Method {
		case http.MethodGet:
			if remainder != "" {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"amendments": h.Service.Amendments(r.Context(), t, id),
			})
		case http.MethodPost:
			var body struct {
				Kind domain.AmendmentKind `json:"kind"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			record, err := h.Service.OpenAmendment(r.Context(), user, t, id, body.Kind)
			if err != nil {
				writeFailure(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"amendment": record})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		// POST /{type}/{id}/{transition}/ executes the named transition.
		// Unknown names surface as transition errors, not routing errors.
		if remainder != "" || r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		updated, err := h.Service.Execute(r.Context(), user, t, id, kind, body.Fields)
		if err != nil {
			writeFailure(w, err)
			return
		}
		document, err := h.Service.Get(r.Context(), user, t, updated.Meta().ID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": document})
	}
}

func (h *Handler) handleAmendmentAction(w http.ResponseWriter, r *http.Request, user domain.User, segments []string) {
	if len(segments) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, action := segments[0], segments[1]
	if _, ok := h.Service.Store().FindAmendment(id); !ok {
		writeError(w, http.StatusNotFound, "amendment not found")
		return
	}
	var (
		record domain.Amendment
		err    error
	)
	switch action {
	case "finalize":
		record, err = h.Service.FinalizeAmendment(r.Context(), user, id)
	case "discard":
		record, err = h.Service.DiscardAmendment(r.Context(), user, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amendment": record})
}

// writeFailure maps an engine error to its transport representation through
// the stable error kind. Validation failures carry per-field messages;
// everything else stays opaque.
func writeFailure(w http.ResponseWriter, err error) {
	switch domain.KindOf(err) {
	case domain.KindAuthorizationDenied:
		writeError(w, http.StatusForbidden, "permission denied")
	case domain.KindValidationFailed:
		var verr domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		writeError(w, http.StatusBadRequest, "validation failed")
	case domain.KindTransitionNotAvailable:
		writeError(w, http.StatusConflict, err.Error())
	case domain.KindConcurrentModification:
		var cerr domain.ConflictError
		if errors.As(err, &cerr) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  "concurrent modification",
				"fields": cerr.Fields,
			})
			return
		}
		writeError(w, http.StatusConflict, "concurrent modification")
	case domain.KindAmendmentConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
