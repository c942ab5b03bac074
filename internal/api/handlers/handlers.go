// Package handlers provides HTTP handlers for the recommendation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/pipeline"
	"github.com/spherical-ai/commerce-rag/internal/profile"
)

// Recommender runs recommendation queries.
type Recommender interface {
	Query(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// ProfileService reads profiles and records interactions.
type ProfileService interface {
	RecordFeedback(ctx context.Context, userID string, in domain.Interaction) (*domain.UserProfile, error)
	Profile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest decodes a JSON body into dst and checks its validate tags.
// On failure it writes a 400 response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.ErrorTypeValidation), "invalid request body", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, string(domain.ErrorTypeValidation), "invalid request body", err.Error())
			return false
		}
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldMessage(fe))
		}
		writeError(w, http.StatusBadRequest, string(domain.ErrorTypeValidation), details[0], strings.Join(details, "; "))
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return name + " is required"
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("%s must satisfy %s=%s", name, fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", name, fe.Tag())
}

// statusFor maps typed errors to HTTP statuses.
func statusFor(err error) int {
	var de *domain.DomainError
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &de):
		switch de.Type {
		case domain.ErrorTypeValidation:
			return http.StatusBadRequest
		case domain.ErrorTypeRetrievalUnavailable,
			domain.ErrorTypeEmbeddingUnavailable,
			domain.ErrorTypeGenerationUnavailable:
			return http.StatusServiceUnavailable
		case domain.ErrorTypeGenerationSchema:
			return http.StatusBadGateway
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return string(de.Type)
	}
	if errors.Is(err, profile.ErrNotFound) {
		return "not_found"
	}
	return "internal"
}

func writeJSON(w http.ResponseWriter, logger *observability.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   code,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeDomainError(w http.ResponseWriter, logger *observability.Logger, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg(message)
	} else {
		logger.Debug().Err(err).Int("status", status).Msg(message)
	}
	writeError(w, status, errorCode(err), message, err.Error())
}
