// Package chunking decomposes product records into typed, independently
// embeddable chunks.
package chunking

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/sentiment"
)

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f2c8e3a-4d1b-5a7e-9c0f-2b8d4e6a1c3f")

// Config holds per-type character bounds and the spec batching policy.
type Config struct {
	CoreInfoMaxChars    int
	DescriptionMaxChars int
	SpecMaxChars        int
	ReviewMaxChars      int
	// Specs are emitted one per pair up to SpecBatchThreshold pairs, and in
	// ordered batches of SpecBatchSize above it.
	SpecBatchThreshold int
	SpecBatchSize      int
}

// DefaultConfig returns the default chunking bounds.
func DefaultConfig() Config {
	return Config{
		CoreInfoMaxChars:    400,
		DescriptionMaxChars: 200,
		SpecMaxChars:        400,
		ReviewMaxChars:      500,
		SpecBatchThreshold:  8,
		SpecBatchSize:       5,
	}
}

// Bound returns the character bound for a chunk type.
func (c Config) Bound(t domain.ChunkType) int {
	switch t {
	case domain.ChunkTypeCoreInfo:
		return c.CoreInfoMaxChars
	case domain.ChunkTypeDescription:
		return c.DescriptionMaxChars
	case domain.ChunkTypeSpec:
		return c.SpecMaxChars
	case domain.ChunkTypeReview:
		return c.ReviewMaxChars
	}
	return 0
}

// Chunker splits products into chunks. Safe for concurrent use.
type Chunker struct {
	cfg    Config
	scorer sentiment.Scorer
	logger *observability.Logger
}

// New creates a Chunker. scorer may be nil, in which case review chunks
// carry no sentiment.
func New(cfg Config, scorer sentiment.Scorer, logger *observability.Logger) *Chunker {
	def := DefaultConfig()
	if cfg.CoreInfoMaxChars <= 0 {
		cfg.CoreInfoMaxChars = def.CoreInfoMaxChars
	}
	if cfg.DescriptionMaxChars <= 0 {
		cfg.DescriptionMaxChars = def.DescriptionMaxChars
	}
	if cfg.SpecMaxChars <= 0 {
		cfg.SpecMaxChars = def.SpecMaxChars
	}
	if cfg.ReviewMaxChars <= 0 {
		cfg.ReviewMaxChars = def.ReviewMaxChars
	}
	if cfg.SpecBatchThreshold <= 0 {
		cfg.SpecBatchThreshold = def.SpecBatchThreshold
	}
	if cfg.SpecBatchSize <= 0 {
		cfg.SpecBatchSize = def.SpecBatchSize
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Chunker{cfg: cfg, scorer: scorer, logger: logger}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// ChunkID derives a stable id from product id, chunk type and sequence.
func ChunkID(productID string, t domain.ChunkType, seq int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(productID+"|"+string(t)+"|"+strconv.Itoa(seq))).String()
}

// Chunk decomposes one product. It always yields exactly one core-info chunk
// first. Malformed fields degrade to chunks with empty text; they never
// cause the product to be rejected.
func (c *Chunker) Chunk(ctx context.Context, p domain.ProductRecord) []domain.Chunk {
	meta := c.baseMetadata(p)

	chunks := []domain.Chunk{c.coreInfo(p, meta)}
	chunks = append(chunks, c.descriptionSegments(p, meta)...)
	chunks = append(chunks, c.specChunks(p, meta)...)
	chunks = append(chunks, c.reviewChunks(ctx, p, meta)...)
	return chunks
}

func (c *Chunker) baseMetadata(p domain.ProductRecord) domain.ChunkMetadata {
	price := p.Price
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		c.logger.Warn().Str("product_id", p.ID).Float64("price", price).Msg("Invalid price, treating as 0")
		price = 0
	}
	rating := p.Rating
	if math.IsNaN(rating) || rating < 0 || rating > 5 {
		c.logger.Warn().Str("product_id", p.ID).Float64("rating", rating).Msg("Rating out of range, clamping")
		rating = clampRating(rating)
	}
	return domain.ChunkMetadata{
		ProductName: strings.TrimSpace(p.Name),
		Category:    strings.TrimSpace(p.Category),
		Brand:       strings.TrimSpace(p.Brand),
		Price:       price,
		Rating:      rating,
	}
}

func (c *Chunker) newChunk(productID string, t domain.ChunkType, seq int, text string, meta domain.ChunkMetadata) domain.Chunk {
	text, truncated := truncate(text, c.cfg.Bound(t))
	meta.Truncated = meta.Truncated || truncated
	return domain.Chunk{
		ID:        ChunkID(productID, t, seq),
		ProductID: productID,
		Type:      t,
		Seq:       seq,
		Text:      text,
		Metadata:  meta,
	}
}

func (c *Chunker) coreInfo(p domain.ProductRecord, meta domain.ChunkMetadata) domain.Chunk {
	if meta.ProductName == "" {
		c.logger.Warn().Str("product_id", p.ID).Msg("Product has no name, core info chunk left empty")
		return c.newChunk(p.ID, domain.ChunkTypeCoreInfo, 0, "", meta)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", meta.ProductName)
	if meta.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", meta.Category)
	}
	if meta.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", meta.Brand)
	}
	fmt.Fprintf(&b, "Price: $%.2f\n", meta.Price)
	fmt.Fprintf(&b, "Rating: %.1f/5", meta.Rating)

	return c.newChunk(p.ID, domain.ChunkTypeCoreInfo, 0, b.String(), meta)
}

func (c *Chunker) descriptionSegments(p domain.ProductRecord, meta domain.ChunkMetadata) []domain.Chunk {
	segments := PackSentences(p.Description, c.cfg.DescriptionMaxChars)

	chunks := make([]domain.Chunk, 0, len(segments))
	for i, seg := range segments {
		m := meta
		m.Truncated = seg.Truncated
		chunks = append(chunks, c.newChunk(p.ID, domain.ChunkTypeDescription, i, seg.Text, m))
	}
	return chunks
}

func (c *Chunker) specChunks(p domain.ProductRecord, meta domain.ChunkMetadata) []domain.Chunk {
	if len(p.Specs) == 0 {
		return nil
	}

	size := 1
	if len(p.Specs) > c.cfg.SpecBatchThreshold {
		size = c.cfg.SpecBatchSize
	}

	var chunks []domain.Chunk
	for start, seq := 0, 0; start < len(p.Specs); start, seq = start+size, seq+1 {
		end := start + size
		if end > len(p.Specs) {
			end = len(p.Specs)
		}
		chunks = append(chunks, c.newChunk(p.ID, domain.ChunkTypeSpec, seq, formatSpecs(meta.ProductName, p.Specs[start:end]), meta))
	}
	return chunks
}

func formatSpecs(name string, specs []domain.SpecPair) string {
	var lines []string
	for _, s := range specs {
		key := strings.TrimSpace(s.Key)
		val := strings.TrimSpace(s.Value)
		if key == "" || val == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", key, val))
	}
	if len(lines) == 0 {
		return ""
	}

	header := "Specifications:"
	if name != "" {
		header = name + " specifications:"
	}
	return header + "\n" + strings.Join(lines, "\n")
}

func (c *Chunker) reviewChunks(ctx context.Context, p domain.ProductRecord, meta domain.ChunkMetadata) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(p.Reviews))
	for i, r := range p.Reviews {
		m := meta
		text := strings.TrimSpace(r.Text)
		if text == "" {
			c.logger.Warn().Str("product_id", p.ID).Int("review", i).Msg("Empty review, chunk left empty")
			chunks = append(chunks, c.newChunk(p.ID, domain.ChunkTypeReview, i, "", m))
			continue
		}

		if c.scorer != nil {
			score, err := c.scorer.Score(ctx, text)
			if err != nil {
				c.logger.Warn().Err(err).Str("product_id", p.ID).Int("review", i).Msg("Sentiment scoring failed, leaving sentiment absent")
			} else {
				m.Sentiment = &score
			}
		}

		body := text
		if r.Rating > 0 && r.Rating <= 5 {
			body = fmt.Sprintf("Review (%.0f/5): %s", r.Rating, text)
		}
		chunks = append(chunks, c.newChunk(p.ID, domain.ChunkTypeReview, i, body, m))
	}
	return chunks
}

// Segment is one packed description segment.
type Segment struct {
	Text      string
	Truncated bool
}

// PackSentences splits text on sentence boundaries and greedily packs whole
// sentences into segments of at most bound characters. A sentence longer
// than bound is hard-truncated, preferring a word boundary, and flagged.
func PackSentences(text string, bound int) []Segment {
	var segments []Segment
	var current string

	flush := func() {
		if current != "" {
			segments = append(segments, Segment{Text: current})
			current = ""
		}
	}

	for _, sentence := range SplitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if n > bound {
			flush()
			segments = append(segments, Segment{Text: hardSplit(sentence, bound)[0], Truncated: true})
			continue
		}

		if current == "" {
			current = sentence
			continue
		}
		if utf8.RuneCountInString(current)+1+n <= bound {
			current += " " + sentence
			continue
		}
		flush()
		current = sentence
	}
	flush()
	return segments
}

// SplitSentences splits on runs of '.', '!' or '?' followed by whitespace
// or end of text. Terminators stay with their sentence.
func SplitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var out []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, collapseSpace(s))
			}
			start = j + 1
		}
		i = j
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, collapseSpace(s))
		}
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// hardSplit cuts s into pieces of at most bound runes, breaking between
// words where possible.
func hardSplit(s string, bound int) []string {
	var pieces []string
	var current []rune

	for _, word := range strings.Fields(s) {
		w := []rune(word)
		for len(w) > bound {
			if len(current) > 0 {
				pieces = append(pieces, string(current))
				current = nil
			}
			pieces = append(pieces, string(w[:bound]))
			w = w[bound:]
		}
		if len(w) == 0 {
			continue
		}
		switch {
		case len(current) == 0:
			current = w
		case len(current)+1+len(w) <= bound:
			current = append(append(current, ' '), w...)
		default:
			pieces = append(pieces, string(current))
			current = w
		}
	}
	if len(current) > 0 {
		pieces = append(pieces, string(current))
	}
	return pieces
}

// truncate bounds s to n runes and reports whether it cut anything.
func truncate(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	r := []rune(s)
	return strings.TrimRightFunc(string(r[:n]), unicode.IsSpace), true
}

func clampRating(r float64) float64 {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}
