// Package sentiment scores review text in [-1, 1] at chunk-build time.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// Scorer scores review text. Implementations return values in [-1, 1].
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// LexiconScorer is a dependency-free polarity scorer over a fixed word list
// with single-token negation.
type LexiconScorer struct {
	positive map[string]float64
	negative map[string]float64
	negators map[string]bool
}

// NewLexiconScorer creates a scorer with the built-in product-review lexicon.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		positive: map[string]float64{
			"good": 1, "great": 1.5, "excellent": 2, "amazing": 2, "awesome": 2, "love": 2, "loved": 2,
			"perfect": 2, "fast": 1, "reliable": 1, "comfortable": 1, "recommend": 1.5, "best": 1.5,
			"solid": 1, "sharp": 1, "bright": 0.5, "crisp": 1, "smooth": 1, "happy": 1, "worth": 1,
			"impressive": 1.5, "nice": 1, "quiet": 0.5, "durable": 1, "fantastic": 2, "superb": 2,
		},
		negative: map[string]float64{
			"bad": 1, "poor": 1.5, "terrible": 2, "awful": 2, "hate": 2, "broken": 2, "slow": 1,
			"disappointing": 1.5, "disappointed": 1.5, "worst": 2, "cheap": 0.5, "flimsy": 1.5,
			"overheats": 1.5, "laggy": 1.5, "noisy": 1, "returned": 1.5, "refund": 1, "defective": 2,
			"buggy": 1.5, "useless": 2, "overpriced": 1, "dim": 0.5, "crash": 1.5, "crashes": 1.5,
		},
		negators: map[string]bool{
			"not": true, "no": true, "never": true, "isn't": true, "wasn't": true, "don't": true,
			"doesn't": true, "didn't": true, "hardly": true, "barely": true,
		},
	}
}

// Score returns (pos-neg)/(pos+neg), or 0 for text without polar words.
func (s *LexiconScorer) Score(_ context.Context, text string) (float64, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	var pos, neg float64
	negate := false
	for _, tok := range tokens {
		if s.negators[tok] {
			negate = true
			continue
		}
		if w, ok := s.positive[tok]; ok {
			if negate {
				neg += w
			} else {
				pos += w
			}
		} else if w, ok := s.negative[tok]; ok {
			if negate {
				pos += w
			} else {
				neg += w
			}
		}
		negate = false
	}

	if pos+neg == 0 {
		return 0, nil
	}
	return clamp((pos - neg) / (pos + neg)), nil
}

// HTTPScorer calls an external inference endpoint:
// POST {"text": "..."} -> {"score": float}.
type HTTPScorer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPScorer creates a scorer backed by endpoint.
func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// Score posts text to the endpoint and clamps the result.
func (s *HTTPScorer) Score(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, domain.Retryable(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, domain.ClassifyStatus(resp.StatusCode,
			fmt.Errorf("sentiment API error: status %d, body: %s", resp.StatusCode, string(data)))
	}

	var out scoreResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("sentiment response missing score")
	}
	return clamp(*out.Score), nil
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

var (
	_ Scorer = (*LexiconScorer)(nil)
	_ Scorer = (*HTTPScorer)(nil)
)
