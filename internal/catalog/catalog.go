// Package catalog loads product snapshots from JSON exports.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

// Snapshot is a loaded catalog, in file order with duplicates collapsed.
type Snapshot struct {
	Products []domain.ProductRecord
	Skipped  int
}

// LoadFile reads a catalog file.
func LoadFile(path string, logger *observability.Logger) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f, logger)
}

// Load decodes either a JSON array of products or an object with a
// "products" array. Records without an id are skipped. A repeated id
// replaces the earlier record in place.
func Load(r io.Reader, logger *observability.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &Snapshot{}, nil
	}

	var raw []json.RawMessage
	if data[0] == '{' {
		var wrapper struct {
			Products []json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		raw = wrapper.Products
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	snap := &Snapshot{Products: make([]domain.ProductRecord, 0, len(raw))}
	index := make(map[string]int, len(raw))
	for i, item := range raw {
		var p domain.ProductRecord
		if err := json.Unmarshal(item, &p); err != nil {
			logger.Warn().Err(err).Int("position", i).Msg("Skipping malformed product record")
			snap.Skipped++
			continue
		}
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			logger.Warn().Int("position", i).Str("name", p.Name).Msg("Skipping product without id")
			snap.Skipped++
			continue
		}
		if at, ok := index[p.ID]; ok {
			logger.Warn().Str("product_id", p.ID).Msg("Duplicate product id, keeping latest record")
			snap.Products[at] = p
			continue
		}
		index[p.ID] = len(snap.Products)
		snap.Products = append(snap.Products, p)
	}

	logger.Info().Int("products", len(snap.Products)).Int("skipped", snap.Skipped).Msg("Catalog loaded")
	return snap, nil
}
