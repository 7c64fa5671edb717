package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taxoai/internal/database"
	"taxoai/internal/model"
	"taxoai/internal/store"
)

// 需要可用的 MongoDB，例如 TAXOAI_TEST_MONGO_URI=mongodb://localhost:27017
func newTestRepository(t *testing.T, now func() time.Time) *MongoRepository {
	t.Helper()

	uri := os.Getenv("TAXOAI_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TAXOAI_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("MongoDB not reachable: %v", err)
	}

	db := client.Database(fmt.Sprintf("taxoai_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	repo := NewMongoRepository(Config{Storage: database.NewStorage(db, nil), Now: now})
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	return repo
}

func TestMongoRepository_Options(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, nil)

	_, ok, err := repo.GetOption(ctx, "taxoai_usage_count")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetOption(ctx, "taxoai_usage_count", "3"))
	require.NoError(t, repo.SetOption(ctx, "taxoai_usage_count", "4"))

	v, ok, err := repo.GetOption(ctx, "taxoai_usage_count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4", v)

	require.NoError(t, repo.DeleteOption(ctx, "taxoai_usage_count"))
	_, ok, err = repo.GetOption(ctx, "taxoai_usage_count")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMongoRepository_Transients(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newTestRepository(t, func() time.Time { return now })

	require.NoError(t, repo.SetTransient(ctx, "taxoai_job_map_a", []int64{4, 8}, time.Hour))
	require.NoError(t, repo.SetTransient(ctx, "taxoai_forever", "x", 0))

	var ids []int64
	ok, err := repo.GetTransient(ctx, "taxoai_job_map_a", &ids)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{4, 8}, ids)

	now = now.Add(2 * time.Hour)
	ok, err = repo.GetTransient(ctx, "taxoai_job_map_a", &ids)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetTransient(ctx, "taxoai_job_map_b", []int64{1}, time.Minute))
	now = now.Add(time.Hour)
	n, err := repo.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var v string
	ok, err = repo.GetTransient(ctx, "taxoai_forever", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestMongoRepository_ProductsAndMeta(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, nil)

	require.NoError(t, repo.UpsertProduct(ctx, model.Product{ID: 2, Name: "Zapatilla"}))
	require.NoError(t, repo.UpsertProduct(ctx, model.Product{ID: 1, Name: "Abrigo", Description: "Lana"}))
	require.NoError(t, repo.UpsertProduct(ctx, model.Product{ID: 3, Name: "Borrador", Status: model.ProductStatusDraft}))

	_, err := repo.GetProduct(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)

	p, err := repo.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Lana", p.Description)

	conf := model.FlexFloat(0.85)
	result := model.AnalysisResult{Classification: &model.Classification{Confidence: &conf}}
	require.NoError(t, repo.SetMeta(ctx, 1, model.MetaAnalysisResult, result))
	require.NoError(t, repo.SetMeta(ctx, 1, model.MetaConfidence, 0.85))
	require.NoError(t, repo.SetMeta(ctx, 1, model.MetaAnalyzedAt, "2025-03-10 12:00:00"))
	require.NoError(t, repo.SetMeta(ctx, 2, model.MetaConfidence, 0.4))
	require.NoError(t, repo.SetMeta(ctx, 2, model.MetaAnalyzedAt, "2025-03-10 12:00:00"))

	var got model.AnalysisResult
	ok, err := repo.GetMeta(ctx, 1, model.MetaAnalysisResult, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.85, got.Confidence(), 1e-9)

	var missing string
	ok, err = repo.GetMeta(ctx, 1, model.MetaKeywords, &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetMeta(ctx, 404, model.MetaKeywords, &missing)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// 重新同步产品不会丢失元数据
	require.NoError(t, repo.UpsertProduct(ctx, model.Product{ID: 1, Name: "Abrigo largo"}))
	ok, err = repo.GetMeta(ctx, 1, model.MetaAnalysisResult, &got)
	require.NoError(t, err)
	assert.True(t, ok)

	all, total, err := repo.ListProducts(ctx, model.ProductQuery{Filter: model.ProductFilterAll})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, all, 2)
	assert.Equal(t, "Abrigo largo", all[0].Name)
	require.NotNil(t, all[0].Confidence)
	assert.InDelta(t, 0.85, *all[0].Confidence, 1e-9)

	low, total, err := repo.ListProducts(ctx, model.ProductQuery{Filter: model.ProductFilterLowConfidence, Threshold: 0.7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(2), low[0].ID)

	require.NoError(t, repo.DeleteMeta(ctx, 2, model.MetaAnalyzedAt))
	pending, _, err := repo.ListProducts(ctx, model.ProductQuery{Filter: model.ProductFilterUnanalyzed})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].ID)

	name := "Abrigo de lana"
	require.NoError(t, repo.UpdateProduct(ctx, 1, model.ProductUpdate{Name: &name}))
	p, err = repo.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, name, p.Name)

	assert.ErrorIs(t, repo.SetMeta(ctx, 404, model.MetaKeywords, "x"), store.ErrNotFound)
}

func TestMongoRepository_TermsAndAttributes(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, nil)
	require.NoError(t, repo.UpsertProduct(ctx, model.Product{ID: 1, Name: "Camiseta"}))

	red, err := repo.FindOrCreateTerm(ctx, "pa_color", "Rojo")
	require.NoError(t, err)
	assert.Equal(t, "rojo", red.Slug)

	again, err := repo.FindOrCreateTerm(ctx, "pa_color", "ROJO")
	require.NoError(t, err)
	assert.Equal(t, "Rojo", again.Name)

	blue, err := repo.FindOrCreateTerm(ctx, "pa_color", "Azul")
	require.NoError(t, err)

	assert.ErrorIs(t, repo.SetObjectTerms(ctx, 1, "pa_color", []string{"verde"}, false), store.ErrNotFound)

	require.NoError(t, repo.SetObjectTerms(ctx, 1, "pa_color", []string{red.Slug}, false))
	require.NoError(t, repo.SetObjectTerms(ctx, 1, "pa_color", []string{blue.Slug, red.Slug}, true))

	terms, err := repo.ObjectTerms(ctx, 1, "pa_color")
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "rojo", terms[0].Slug)
	assert.Equal(t, "azul", terms[1].Slug)

	created, err := repo.EnsureAttributeTaxonomy(ctx, model.AttributeTaxonomy{Slug: "pa_color", Name: "Color", Type: "select", OrderBy: "menu_order"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.EnsureAttributeTaxonomy(ctx, model.AttributeTaxonomy{Slug: "pa_color", Name: "Color"})
	require.NoError(t, err)
	assert.False(t, created)

	attrs := []model.ProductAttribute{{Name: "pa_color", Options: []string{"rojo", "azul"}, Visible: true, IsTaxonomy: true}}
	require.NoError(t, repo.SetAttributes(ctx, 1, attrs))
	got, err := repo.Attributes(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, attrs, got)
}
