package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/api/response"
	"github.com/kiranshivaraju/scenarist/internal/cache"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

const itemListTTL = 5 * time.Minute

// ItemsHandler serves CRUD for one collection of items. Listings are cached
// in Redis and invalidated on every write.
type ItemsHandler struct {
	store store.Store
	cache cache.Cache
	kind  models.Tab
}

// NewItemsHandler creates a handler for kind. ca may be nil.
func NewItemsHandler(st store.Store, ca cache.Cache, kind models.Tab) *ItemsHandler {
	return &ItemsHandler{store: st, cache: ca, kind: kind}
}

// List handles GET; items are returned newest first.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	key := cache.ItemListKey(h.kind)
	if h.cache != nil {
		var cached []*models.Item
		if ok, err := cache.GetJSON(r.Context(), h.cache, key, &cached); err == nil && ok {
			response.JSON(w, cached)
			return
		}
	}

	items, err := h.store.ListItems(r.Context(), h.kind)
	if err != nil {
		slog.Error("failed to list items", "kind", h.kind, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list items", nil)
		return
	}

	if h.cache != nil {
		if err := cache.SetJSON(r.Context(), h.cache, key, items, itemListTTL); err != nil {
			slog.Warn("item list cache write failed", "kind", h.kind, "error", err)
		}
	}
	response.JSON(w, items)
}

// Create handles POST. A client-chosen id is kept so a placeholder can be
// referenced by a job before the response arrives.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var item models.Item
	if !response.Decode(w, r, &item) {
		return
	}
	if strings.TrimSpace(item.Name) == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
		return
	}
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if len(item.ID) > models.MaxItemIDLength {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id is too long", nil)
		return
	}
	item.Kind = h.kind
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now

	err := h.store.CreateItem(r.Context(), &item)
	if errors.Is(err, store.ErrDuplicateKey) {
		response.Error(w, http.StatusConflict, "CONFLICT", "Item already exists", nil)
		return
	}
	if err != nil {
		slog.Error("failed to create item", "kind", h.kind, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create item", nil)
		return
	}
	h.invalidate(r)

	response.Created(w, item)
}

// Update handles PUT {id, ...fields}. Fields absent from the body keep their
// stored values.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if !response.Decode(w, r, &body) {
		return
	}
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ref); err != nil || strings.TrimSpace(ref.ID) == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id is required", nil)
		return
	}

	item, err := h.store.GetItem(r.Context(), h.kind, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Item not found", nil)
		return
	}
	if err != nil {
		slog.Error("failed to load item", "kind", h.kind, "id", ref.ID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load item", nil)
		return
	}

	if err := json.Unmarshal(body, item); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid item fields", nil)
		return
	}
	item.ID, item.Kind = ref.ID, h.kind
	item.UpdatedAt = time.Now().UTC()

	err = h.store.UpdateItem(r.Context(), item)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Item not found", nil)
		return
	}
	if err != nil {
		slog.Error("failed to update item", "kind", h.kind, "id", ref.ID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update item", nil)
		return
	}
	h.invalidate(r)

	response.JSON(w, item)
}

// Delete handles DELETE ?id=.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id query parameter is required", nil)
		return
	}

	err := h.store.DeleteItem(r.Context(), h.kind, id)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Item not found", nil)
		return
	}
	if err != nil {
		slog.Error("failed to delete item", "kind", h.kind, "id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete item", nil)
		return
	}
	h.invalidate(r)

	response.NoContent(w)
}

func (h *ItemsHandler) invalidate(r *http.Request) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(r.Context(), cache.ItemListKey(h.kind)); err != nil {
		slog.Warn("item list cache invalidation failed", "kind", h.kind, "error", err)
	}
}
