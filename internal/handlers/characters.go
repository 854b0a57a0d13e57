package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/storage"
)

// CharacterSummary is a preset as listed by GET /v1/characters
type CharacterSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Inventory []string `json:"inventory"`
}

type CharacterHandler struct {
	log     *slog.Logger
	storage storage.Storage
}

func NewCharacterHandler(log *slog.Logger, storage storage.Storage) *CharacterHandler {
	return &CharacterHandler{
		log:     log,
		storage: storage,
	}
}

// List lists all character presets
func (h *CharacterHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.storage.ListCharacters(r.Context())
	if err != nil {
		h.log.Error("Failed to list characters", "error", err)
		writeError(w, h.log, http.StatusInternalServerError, "Failed to list characters")
		return
	}

	// Empty list, never null
	list := make([]CharacterSummary, 0, len(ids))
	for _, id := range ids {
		c, err := h.storage.GetCharacter(r.Context(), id)
		if err != nil {
			h.log.Warn("Failed to load character", "error", err, "id", id)
			continue
		}
		list = append(list, summarize(id, c))
	}
	writeJSON(w, h.log, http.StatusOK, list)
}

// Get returns one character preset
func (h *CharacterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "characterID")
	c, err := h.storage.GetCharacter(r.Context(), id)
	if err != nil {
		h.log.Debug("Character not found", "error", err, "id", id)
		writeError(w, h.log, http.StatusNotFound, "Character not found")
		return
	}
	writeJSON(w, h.log, http.StatusOK, c)
}

func summarize(id string, c *engine.Character) CharacterSummary {
	inv := c.Inventory
	if inv == nil {
		inv = []string{}
	}
	return CharacterSummary{ID: id, Name: c.Name, Inventory: inv}
}
