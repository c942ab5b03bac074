// Package domain holds the product, chunk, intent and profile types shared by
// the retrieval-and-ranking pipeline.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChunkType enumerates chunk kinds.
type ChunkType string

const (
	ChunkTypeCoreInfo    ChunkType = "core_info"
	ChunkTypeDescription ChunkType = "description_segment"
	ChunkTypeSpec        ChunkType = "spec"
	ChunkTypeReview      ChunkType = "review"
)

// ChunkTypes lists chunk kinds in emission order.
var ChunkTypes = []ChunkType{ChunkTypeCoreInfo, ChunkTypeDescription, ChunkTypeSpec, ChunkTypeReview}

// SpecPair is one specification key-value pair.
type SpecPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SpecList is an ordered list of spec pairs. It decodes from either a JSON
// object (keys kept in document order) or an array of {key, value}.
type SpecList []SpecPair

// UnmarshalJSON implements json.Unmarshaler.
func (s *SpecList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}

	if data[0] == '[' {
		var pairs []SpecPair
		if err := json.Unmarshal(data, &pairs); err != nil {
			return fmt.Errorf("decode spec array: %w", err)
		}
		*s = pairs
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode spec object: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("specifications must be an object or array")
	}

	var out SpecList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode spec key: %w", err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode spec %q: %w", key, err)
		}
		out = append(out, SpecPair{Key: key, Value: scalarString(raw)})
	}
	*s = out
	return nil
}

// MarshalJSON encodes the list as an object preserving order.
func (s SpecList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(p.Key)
		v, _ := json.Marshal(p.Value)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func scalarString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

// Review is a single customer review.
type Review struct {
	Text         string  `json:"text"`
	Rating       float64 `json:"rating"`
	HelpfulCount int     `json:"helpful_count,omitempty"`
}

// ProductRecord is an immutable catalog snapshot entry. Re-sync replaces it
// wholesale.
type ProductRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	Description string   `json:"description"`
	Specs       SpecList `json:"specifications"`
	Reviews     []Review `json:"reviews"`
}

// ChunkMetadata carries everything filtering and scoring need, so the
// original product never has to be dereferenced at query time.
type ChunkMetadata struct {
	ProductName string   `json:"product_name"`
	Category    string   `json:"category"`
	Brand       string   `json:"brand"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	Sentiment   *float64 `json:"sentiment_score,omitempty"`
	Truncated   bool     `json:"truncated,omitempty"`
}

// Chunk is the smallest independently retrievable unit of product text.
type Chunk struct {
	ID        string        `json:"chunk_id"`
	ProductID string        `json:"product_id"`
	Type      ChunkType     `json:"chunk_type"`
	Seq       int           `json:"seq"`
	Text      string        `json:"text"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ScoredChunk pairs a chunk with the index's native similarity score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// QueryIntent is derived purely from query text.
type QueryIntent struct {
	PriceCeiling    *float64 `json:"price_ceiling,omitempty"`
	IsComparison    bool     `json:"is_comparison"`
	IsBudgetQuery   bool     `json:"is_budget_query"`
	FeatureKeywords []string `json:"feature_keywords"`
}

// Action is a user interaction kind.
type Action string

const (
	ActionView    Action = "view"
	ActionLike    Action = "like"
	ActionDislike Action = "dislike"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionLike, ActionDislike:
		return true
	}
	return false
}

// Interaction is an append-only history entry.
type Interaction struct {
	ProductID string    `json:"product_id"`
	Action    Action    `json:"action"`
	Category  string    `json:"category,omitempty"`
	Brand     string    `json:"brand,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserProfile is a read-only snapshot handed to the ranker.
type UserProfile struct {
	UserID              string        `json:"user_id"`
	PreferredCategories []string      `json:"preferred_categories"`
	PreferredBrands     []string      `json:"preferred_brands"`
	MaxPrice            *float64      `json:"max_price,omitempty"`
	History             []Interaction `json:"interaction_history"`
}

// PrefersCategory reports a case-insensitive category preference.
func (p *UserProfile) PrefersCategory(category string) bool {
	return p != nil && containsFold(p.PreferredCategories, category)
}

// PrefersBrand reports a case-insensitive brand preference.
func (p *UserProfile) PrefersBrand(brand string) bool {
	return p != nil && containsFold(p.PreferredBrands, brand)
}

// ApplyInteraction folds an interaction into the preference summary.
// Like adds category and brand and raises MaxPrice; dislike drops the brand.
// Applying the same event twice yields the same summary.
func (p *UserProfile) ApplyInteraction(in Interaction) {
	p.History = append(p.History, in)
	switch in.Action {
	case ActionLike:
		if in.Category != "" {
			p.PreferredCategories = addToSet(p.PreferredCategories, in.Category)
		}
		if in.Brand != "" {
			p.PreferredBrands = addToSet(p.PreferredBrands, in.Brand)
		}
		if in.Price > 0 && (p.MaxPrice == nil || in.Price > *p.MaxPrice) {
			price := in.Price
			p.MaxPrice = &price
		}
	case ActionDislike:
		if in.Brand != "" {
			p.PreferredBrands = removeFromSet(p.PreferredBrands, in.Brand)
		}
	}
}

func containsFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func addToSet(set []string, v string) []string {
	if containsFold(set, v) {
		return set
	}
	out := append(append([]string(nil), set...), v)
	sort.Strings(out)
	return out
}

func removeFromSet(set []string, v string) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		if !strings.EqualFold(s, v) {
			out = append(out, s)
		}
	}
	return out
}

// ComponentScores keeps each fused signal for explainability.
type ComponentScores struct {
	Similarity  float64 `json:"similarity"`
	Sentiment   float64 `json:"sentiment"`
	Preference  float64 `json:"preference"`
	IntentBonus float64 `json:"intent_bonus"`
}

// RankedCandidate is one product in the final ordered output.
type RankedCandidate struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Brand        string          `json:"brand"`
	Category     string          `json:"category"`
	Price        float64         `json:"price"`
	Rating       float64         `json:"rating"`
	Aggregate    float64         `json:"aggregate_score"`
	Scores       ComponentScores `json:"component_scores"`
	SourceChunks []ScoredChunk   `json:"source_chunks"`
}
