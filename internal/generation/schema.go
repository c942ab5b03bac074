package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Comparison is one product row in a generated answer. Price and rating are
// pointers so that a missing or null value fails validation instead of
// decoding to zero.
type Comparison struct {
	Name        string   `json:"name" validate:"required"`
	Price       *float64 `json:"price" validate:"required,gte=0"`
	Rating      *float64 `json:"rating" validate:"required,gte=0,lte=5"`
	Category    string   `json:"category,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	KeyFeatures []string `json:"key_features" validate:"required,dive,required"`
}

// Response is the fixed structured answer schema.
type Response struct {
	Summary     string       `json:"summary" validate:"required"`
	Comparisons []Comparison `json:"comparisons" validate:"required,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrNoJSONObject is returned when model output contains no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in model output")

// ExtractJSON returns the span from the first '{' to the last '}'. Models
// often wrap JSON in prose or code fences.
func ExtractJSON(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return content[start : end+1], nil
}

// ParseResponse extracts, decodes and validates model output. Wrong JSON
// types (a price given as a string, for example) fail decoding.
func ParseResponse(content string) (*Response, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, fmt.Errorf("validate response: %w", describeValidation(err))
	}
	return &resp, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
