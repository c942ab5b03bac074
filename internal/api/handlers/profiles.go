package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

// ProfileHandler serves user profiles and interaction feedback.
type ProfileHandler struct {
	logger   *observability.Logger
	profiles ProfileService
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(logger *observability.Logger, profiles ProfileService) *ProfileHandler {
	return &ProfileHandler{logger: logger, profiles: profiles}
}

// InteractionRequestDTO is the body of an interaction event.
type InteractionRequestDTO struct {
	ProductID string    `json:"productId" validate:"notblank"`
	Action    string    `json:"action" validate:"oneof=view like dislike"`
	Category  string    `json:"category,omitempty"`
	Brand     string    `json:"brand,omitempty"`
	Price     float64   `json:"price,omitempty" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ProfileDTO is a profile snapshot.
type ProfileDTO struct {
	UserID              string           `json:"userId"`
	PreferredCategories []string         `json:"preferredCategories"`
	PreferredBrands     []string         `json:"preferredBrands"`
	MaxPrice            *float64         `json:"maxPrice,omitempty"`
	History             []InteractionDTO `json:"history"`
}

// InteractionDTO is one history entry.
type InteractionDTO struct {
	ProductID string `json:"productId"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// RecordInteraction handles POST /users/{userId}/interactions.
func (h *ProfileHandler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req InteractionRequestDTO
	if !decodeRequest(w, r, &req) {
		return
	}

	prof, err := h.profiles.RecordFeedback(r.Context(), userID, domain.Interaction{
		ProductID: req.ProductID,
		Action:    domain.Action(req.Action),
		Category:  req.Category,
		Brand:     req.Brand,
		Price:     req.Price,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeDomainError(w, h.logger, "failed to record interaction", err)
		return
	}

	writeJSON(w, h.logger, http.StatusAccepted, toProfileDTO(prof))
}

// GetProfile handles GET /users/{userId}/profile.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.profiles.Profile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeDomainError(w, h.logger, "profile lookup failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toProfileDTO(prof))
}

func toProfileDTO(p *domain.UserProfile) ProfileDTO {
	dto := ProfileDTO{
		UserID:              p.UserID,
		PreferredCategories: p.PreferredCategories,
		PreferredBrands:     p.PreferredBrands,
		MaxPrice:            p.MaxPrice,
		History:             make([]InteractionDTO, 0, len(p.History)),
	}
	if dto.PreferredCategories == nil {
		dto.PreferredCategories = []string{}
	}
	if dto.PreferredBrands == nil {
		dto.PreferredBrands = []string{}
	}
	for _, in := range p.History {
		dto.History = append(dto.History, InteractionDTO{
			ProductID: in.ProductID,
			Action:    string(in.Action),
			Timestamp: in.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return dto
}
