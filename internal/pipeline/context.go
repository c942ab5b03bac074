package pipeline

import (
	"fmt"
	"strings"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// ContextConfig bounds the generation context payload.
type ContextConfig struct {
	MaxChunksPerProduct int
	MaxTotalChars       int
	MaxProducts         int
}

// DefaultContextConfig returns the default context bounds.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{MaxChunksPerProduct: 3, MaxTotalChars: 4000, MaxProducts: 5}
}

// AssembledContext is the serialized payload handed to generation.
type AssembledContext struct {
	Text      string `json:"text"`
	Products  int    `json:"products"`
	Chunks    int    `json:"chunks"`
	Truncated bool   `json:"truncated"`
}

// AssembleContext serializes candidates in rank order. Each product gets a
// header line and up to MaxChunksPerProduct of its best source chunks; core
// info chunks are skipped since the header already carries those fields.
// Output stops before any line that would push it past MaxTotalChars.
func AssembleContext(candidates []domain.RankedCandidate, cfg ContextConfig) AssembledContext {
	if cfg.MaxChunksPerProduct <= 0 {
		cfg.MaxChunksPerProduct = 3
	}
	if cfg.MaxTotalChars <= 0 {
		cfg.MaxTotalChars = 4000
	}

	var b strings.Builder
	var out AssembledContext
	write := func(line string) bool {
		if b.Len()+len(line)+1 > cfg.MaxTotalChars {
			out.Truncated = true
			return false
		}
		b.WriteString(line)
		b.WriteByte('\n')
		return true
	}

products:
	for i, c := range candidates {
		if !write(productHeader(i+1, c)) {
			break
		}
		out.Products++

		used := 0
		for _, sc := range c.SourceChunks {
			if used >= cfg.MaxChunksPerProduct {
				break
			}
			if sc.Chunk.Type == domain.ChunkTypeCoreInfo {
				continue
			}
			text := flatten(sc.Chunk.Text)
			if text == "" {
				continue
			}
			if !write("   - " + text) {
				break products
			}
			used++
			out.Chunks++
		}
	}

	out.Text = strings.TrimRight(b.String(), "\n")
	return out
}

func productHeader(n int, c domain.RankedCandidate) string {
	var parts []string
	if c.Brand != "" {
		parts = append(parts, c.Brand)
	}
	if c.Category != "" {
		parts = append(parts, c.Category)
	}
	name := c.ProductName
	if name == "" {
		name = c.ProductID
	}
	header := fmt.Sprintf("%d. %s", n, name)
	if len(parts) > 0 {
		header += " (" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("%s | $%.2f | rating %.1f/5 | id %s", header, c.Price, c.Rating, c.ProductID)
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
