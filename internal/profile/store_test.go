package profile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(context.Background(), SQLOptions{Dialect: DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_AppendAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "u1")
			assert.ErrorIs(t, err, ErrNotFound)

			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			_, err = s.AppendInteraction(ctx, "u1", domain.Interaction{
				ProductID: "p1", Action: domain.ActionLike, Category: "Laptops", Brand: "Zenbyte", Price: 900, Timestamp: base,
			})
			require.NoError(t, err)
			_, err = s.AppendInteraction(ctx, "u1", domain.Interaction{
				ProductID: "p2", Action: domain.ActionLike, Category: "Tablets", Brand: "Orbit", Price: 400, Timestamp: base.Add(time.Minute),
			})
			require.NoError(t, err)
			p, err := s.AppendInteraction(ctx, "u1", domain.Interaction{
				ProductID: "p3", Action: domain.ActionDislike, Brand: "Orbit", Timestamp: base.Add(2 * time.Minute),
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"Zenbyte"}, p.PreferredBrands)

			got, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "u1", got.UserID)
			assert.Equal(t, []string{"Laptops", "Tablets"}, got.PreferredCategories)
			assert.Equal(t, []string{"Zenbyte"}, got.PreferredBrands)
			require.NotNil(t, got.MaxPrice)
			assert.Equal(t, 900.0, *got.MaxPrice)

			require.Len(t, got.History, 3)
			assert.Equal(t, "p1", got.History[0].ProductID)
			assert.Equal(t, domain.ActionDislike, got.History[2].Action)
			assert.True(t, got.History[0].Timestamp.Equal(base))
		})
	}
}

func TestStore_RejectsInvalidInteractions(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.AppendInteraction(ctx, "", domain.Interaction{ProductID: "p", Action: domain.ActionView})
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
			_, err = s.AppendInteraction(ctx, "u", domain.Interaction{ProductID: "p", Action: "purchase"})
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
			_, err = s.AppendInteraction(ctx, "u", domain.Interaction{Action: domain.ActionView})
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
		})
	}
}

func TestStore_ConcurrentAppendsKeepHistory(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.AppendInteraction(ctx, "u1", domain.Interaction{
						ProductID: fmt.Sprintf("p%d", i), Action: domain.ActionLike, Category: "Laptops", Brand: "Zenbyte",
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			p, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, p.History, 20)
			assert.Equal(t, []string{"Laptops"}, p.PreferredCategories)
			assert.Equal(t, []string{"Zenbyte"}, p.PreferredBrands)
		})
	}
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.AppendInteraction(ctx, "u1", domain.Interaction{ProductID: "p1", Action: domain.ActionLike, Brand: "Zen", Price: 10})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	snap.PreferredBrands[0] = "mutated"
	*snap.MaxPrice = 1

	again, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Zen"}, again.PreferredBrands)
	assert.Equal(t, 10.0, *again.MaxPrice)
}

func TestSQLStore_HistoryLimit(t *testing.T) {
	s, err := OpenSQL(context.Background(), SQLOptions{Dialect: DialectSQLite, DSN: ":memory:", HistoryLimit: 3})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.AppendInteraction(ctx, "u", domain.Interaction{ProductID: fmt.Sprintf("p%d", i), Action: domain.ActionView, Timestamp: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	p, err := s.Get(ctx, "u")
	require.NoError(t, err)
	require.Len(t, p.History, 3)
	assert.Equal(t, "p2", p.History[0].ProductID)
	assert.Equal(t, "p4", p.History[2].ProductID)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenSQL_ConfigErrors(t *testing.T) {
	_, err := OpenSQL(context.Background(), SQLOptions{Dialect: "oracle", DSN: "x"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
	_, err = OpenSQL(context.Background(), SQLOptions{Dialect: DialectPostgres})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}
