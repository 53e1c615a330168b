package rest

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"govcore/internal/infra/blob"
	"govcore/pkg/domain"
)

// AttachmentsHandler serves attachment bytes and metadata. Keys follow the
// <type>/<document id>/<filename> convention so listings by document are
// prefix scans.
type AttachmentsHandler struct {
	Store blob.Store
	Users UserResolver
}

// NewAttachmentsHandler constructs the handler with header-based user
// resolution.
func NewAttachmentsHandler(store blob.Store) *AttachmentsHandler {
	return &AttachmentsHandler{Store: store, Users: HeaderUserResolver{}}
}

const attachmentsPrefix = "/api/v1/attachments/"

func (h *AttachmentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusInternalServerError, "attachment store not configured")
		return
	}
	user, ok := h.Users.Resolve(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, attachmentsPrefix)
	if key == "" || key == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.upload(w, r, user, key)
	case http.MethodGet:
		if strings.HasSuffix(r.URL.Path, "/") {
			h.list(w, r, key)
			return
		}
		h.download(w, r, key)
	case http.MethodDelete:
		h.remove(w, r, key)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AttachmentsHandler) upload(w http.ResponseWriter, r *http.Request, user domain.User, key string) {
	defer r.Body.Close()
	info, err := h.Store.Put(r.Context(), key, r.Body, blob.PutOptions{
		ContentType: r.Header.Get("Content-Type"),
		Metadata:    map[string]string{"uploaded_by": user.ID},
	})
	if err != nil {
		// Keys are create-once; a repeat upload is a conflict, not a retry.
		if strings.Contains(err.Error(), "exists") {
			writeError(w, http.StatusConflict, "attachment already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": info})
}

func (h *AttachmentsHandler) download(w http.ResponseWriter, r *http.Request, key string) {
	info, body, err := h.Store.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	defer body.Close()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (h *AttachmentsHandler) list(w http.ResponseWriter, r *http.Request, prefix string) {
	infos, err := h.Store.List(r.Context(), strings.TrimSuffix(prefix, "/"))
	if err != nil {
		if errors.Is(err, blob.ErrUnsupported) {
			writeError(w, http.StatusNotImplemented, "listing not supported")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": infos})
}

func (h *AttachmentsHandler) remove(w http.ResponseWriter, r *http.Request, key string) {
	existed, err := h.Store.Delete(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
