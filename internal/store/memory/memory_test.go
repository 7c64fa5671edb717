package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxoai/internal/model"
	"taxoai/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestStore_Transients(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))

	require.NoError(t, s.SetTransient(ctx, "k", map[string]int{"a": 1}, time.Minute))

	var got map[string]int
	ok, err := s.GetTransient(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, got["a"])

	clock.now = clock.now.Add(time.Minute)
	ok, err = s.GetTransient(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok, "transient is still valid at exactly its TTL")

	clock.now = clock.now.Add(time.Second)
	ok, err = s.GetTransient(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok, "expired transient must not be returned")
}

func TestStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	s := New(WithClock(clock.Now))

	require.NoError(t, s.SetTransient(ctx, "short", 1, time.Second))
	require.NoError(t, s.SetTransient(ctx, "long", 1, time.Hour))
	require.NoError(t, s.SetTransient(ctx, "forever", 1, 0))

	clock.now = clock.now.Add(time.Minute)
	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var v int
	ok, _ := s.GetTransient(ctx, "long", &v)
	assert.True(t, ok)
	ok, _ = s.GetTransient(ctx, "forever", &v)
	assert.True(t, ok)
}

func TestStore_Options(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.GetOption(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetOption(ctx, "taxoai_usage_count", "3"))
	v, ok, err := s.GetOption(ctx, "taxoai_usage_count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, s.DeleteOption(ctx, "taxoai_usage_count"))
	_, ok, _ = s.GetOption(ctx, "taxoai_usage_count")
	assert.False(t, ok)
}

func TestStore_MetaAndProduct(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(model.Product{ID: 7, Name: "Camiseta"})

	_, err := s.GetProduct(ctx, 8)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetMeta(ctx, 7, model.MetaConfidence, 0.92))
	var c float64
	ok, err := s.GetMeta(ctx, 7, model.MetaConfidence, &c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.92, c, 1e-9)

	title := "Camiseta Roja"
	require.NoError(t, s.UpdateProduct(ctx, 7, model.ProductUpdate{Name: &title}))
	p, err := s.GetProduct(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Camiseta Roja", p.Name)
	assert.Equal(t, model.ProductStatusPublish, p.Status)
}

func TestStore_Terms(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(model.Product{ID: 1, Name: "P"})

	a, err := s.FindOrCreateTerm(ctx, model.TaxonomyProductCategory, "Camisetas")
	require.NoError(t, err)
	again, err := s.FindOrCreateTerm(ctx, model.TaxonomyProductCategory, "camisetas")
	require.NoError(t, err)
	assert.Equal(t, a.Slug, again.Slug)

	b, err := s.FindOrCreateTerm(ctx, model.TaxonomyProductCategory, "Ropa")
	require.NoError(t, err)

	require.NoError(t, s.SetObjectTerms(ctx, 1, model.TaxonomyProductCategory, []string{a.Slug}, true))
	require.NoError(t, s.SetObjectTerms(ctx, 1, model.TaxonomyProductCategory, []string{b.Slug, a.Slug}, true))

	terms, err := s.ObjectTerms(ctx, 1, model.TaxonomyProductCategory)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "Camisetas", terms[0].Name)
	assert.Equal(t, "Ropa", terms[1].Name)

	require.NoError(t, s.SetObjectTerms(ctx, 1, model.TaxonomyProductCategory, []string{b.Slug}, false))
	terms, _ = s.ObjectTerms(ctx, 1, model.TaxonomyProductCategory)
	require.Len(t, terms, 1)

	err = s.SetObjectTerms(ctx, 1, model.TaxonomyProductCategory, []string{"missing"}, true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListProducts(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(model.Product{ID: 1, Name: "B"})
	s.PutProduct(model.Product{ID: 2, Name: "A"})
	s.PutProduct(model.Product{ID: 3, Name: "C"})
	s.PutProduct(model.Product{ID: 4, Name: "D", Status: model.ProductStatusDraft})

	require.NoError(t, s.SetMeta(ctx, 1, model.MetaAnalyzedAt, "2025-03-01 10:00:00"))
	require.NoError(t, s.SetMeta(ctx, 1, model.MetaConfidence, 0.4))
	require.NoError(t, s.SetMeta(ctx, 3, model.MetaAnalyzedAt, "2025-03-01 10:00:00"))
	require.NoError(t, s.SetMeta(ctx, 3, model.MetaConfidence, 0.9))

	all, total, err := s.ListProducts(ctx, model.ProductQuery{Filter: model.ProductFilterAll})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []int64{2, 1, 3}, listingIDs(all))

	unanalyzed, _, err := s.ListProducts(ctx, model.ProductQuery{Filter: model.ProductFilterUnanalyzed})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, listingIDs(unanalyzed))

	low, _, err := s.ListProducts(ctx, model.ProductQuery{Filter: model.ProductFilterLowConfidence, Threshold: 0.7})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, listingIDs(low))

	page, total, err := s.ListProducts(ctx, model.ProductQuery{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []int64{1}, listingIDs(page))
}

func TestStore_UpsertProductKeepsMeta(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertProduct(ctx, model.Product{ID: 10, Name: "Zapatillas"}))
	require.NoError(t, s.SetMeta(ctx, 10, model.MetaAnalyzedAt, "2025-03-01 10:00:00"))
	require.NoError(t, s.UpsertProduct(ctx, model.Product{ID: 10, Name: "Zapatillas Running"}))

	p, err := s.GetProduct(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Zapatillas Running", p.Name)

	var at string
	ok, err := s.GetMeta(ctx, 10, model.MetaAnalyzedAt, &at)
	require.NoError(t, err)
	assert.True(t, ok)
}

func listingIDs(ls []model.ProductListing) []int64 {
	ids := make([]int64, 0, len(ls))
	for _, l := range ls {
		ids = append(ids, l.ID)
	}
	return ids
}
