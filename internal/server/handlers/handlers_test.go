package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxoai/internal/analyzer"
	"taxoai/internal/api"
	"taxoai/internal/apperror"
	"taxoai/internal/batch"
	"taxoai/internal/model"
	"taxoai/internal/store/memory"
	"taxoai/internal/task"
	"taxoai/internal/usage"
)

type analyzeCall struct {
	id    int64
	force bool
}

type fakeAnalyzer struct {
	calls  []analyzeCall
	err    error
	stored map[int64]*analyzer.StoredAnalysis
}

func (f *fakeAnalyzer) Analyze(_ context.Context, id int64, force bool) (*model.AnalysisResult, error) {
	f.calls = append(f.calls, analyzeCall{id, force})
	if f.err != nil {
		return nil, f.err
	}
	category := "Apparel & Accessories"
	return &model.AnalysisResult{Classification: &model.Classification{GoogleCategory: &category}}, nil
}

func (f *fakeAnalyzer) StoredAnalysis(_ context.Context, id int64) (*analyzer.StoredAnalysis, error) {
	if id == 404 {
		return nil, apperror.ErrInvalidProduct
	}
	return f.stored[id], nil
}

func (f *fakeAnalyzer) Threshold() float64 { return 0.7 }

type fakeSearcher struct {
	params []api.SearchParams
}

func (f *fakeSearcher) SearchTaxonomies(_ context.Context, p api.SearchParams) (*model.TaxonomySearchResult, error) {
	f.params = append(f.params, p)
	return &model.TaxonomySearchResult{Categories: []model.TaxonomyCategory{{ID: 2271, Name: "Dresses"}}}, nil
}

type fakeBatches struct {
	submitted []int64
	polled    string
}

func (f *fakeBatches) Submit(_ context.Context, ids []int64) (*batch.SubmitResult, error) {
	f.submitted = ids
	if len(ids) == 0 {
		return nil, apperror.ErrNoProducts
	}
	return &batch.SubmitResult{JobID: "job-1", Status: model.JobStatusPending, TotalProducts: len(ids), ProductIDs: ids}, nil
}

func (f *fakeBatches) Poll(_ context.Context, jobID string) (*batch.PollResult, error) {
	f.polled = jobID
	return &batch.PollResult{Status: model.JobStatusProcessing, TotalProducts: 2, ProcessedProducts: 1}, nil
}

type fakeUsage struct {
	refreshed []bool
}

func (f *fakeUsage) Status(_ context.Context, forceRefresh bool) usage.Status {
	f.refreshed = append(f.refreshed, forceRefresh)
	return usage.Status{Allowed: true, Source: usage.SourceServer, Limit: 25}
}

type fixture struct {
	engine   *gin.Engine
	store    *memory.Store
	analyzer *fakeAnalyzer
	searcher *fakeSearcher
	batches  *fakeBatches
	usage    *fakeUsage
}

func newFixture(t *testing.T, mutate func(*Dependencies)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:    memory.New(),
		analyzer: &fakeAnalyzer{stored: map[int64]*analyzer.StoredAnalysis{}},
		searcher: &fakeSearcher{},
		batches:  &fakeBatches{},
		usage:    &fakeUsage{},
	}
	deps := Dependencies{
		Analyzer:    f.analyzer,
		Products:    f.store,
		Writer:      f.store,
		Taxonomies:  f.searcher,
		Batches:     f.batches,
		Usage:       f.usage,
		AutoAnalyze: true,
	}
	if mutate != nil {
		mutate(&deps)
	}

	h := New(deps)
	r := gin.New()
	r.GET("/healthz", h.Health)
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id/analysis", h.GetAnalysis)
	r.POST("/products/:id/analyze", h.AnalyzeProduct)
	r.GET("/taxonomies/search", h.SearchTaxonomies)
	r.POST("/batches", h.SubmitBatch)
	r.GET("/batches/:job_id", h.PollBatch)
	r.GET("/usage", h.GetUsage)
	r.POST("/hooks/product-saved", h.ProductSaved)
	f.engine = r
	return f
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestAnalyzeProduct_ForceDefaultsToTrue(t *testing.T) {
	f := newFixture(t, nil)

	status, env := f.do(t, http.MethodPost, "/products/7/analyze", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), "Apparel & Accessories")

	_, _ = f.do(t, http.MethodPost, "/products/7/analyze?force=false", nil)
	assert.Equal(t, []analyzeCall{{7, true}, {7, false}}, f.analyzer.calls)

	status, env = f.do(t, http.MethodPost, "/products/7/analyze?force=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", env.ErrorCode)
	assert.Len(t, f.analyzer.calls, 2)
}

func TestAnalyzeProduct_ErrorEnvelopes(t *testing.T) {
	f := newFixture(t, nil)

	status, env := f.do(t, http.MethodPost, "/products/abc/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid product ID.", env.Message)
	assert.Empty(t, f.analyzer.calls)

	f.analyzer.err = apperror.ErrLimitReached
	status, env = f.do(t, http.MethodPost, "/products/7/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Equal(t, "limit_reached", env.ErrorCode)
	assert.Equal(t, "Monthly analysis limit reached.", env.Message)

	f.analyzer.err = errors.New("disk on fire")
	status, env = f.do(t, http.MethodPost, "/products/7/analyze", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Empty(t, env.ErrorCode)
}

func TestGetAnalysis(t *testing.T) {
	f := newFixture(t, nil)
	f.analyzer.stored[5] = &analyzer.StoredAnalysis{ProductID: 5, Status: model.AnalysisStatusAnalyzed, Confidence: 0.9}

	_, env := f.do(t, http.MethodGet, "/products/5/analysis", nil)
	var stored analyzer.StoredAnalysis
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, model.AnalysisStatusAnalyzed, stored.Status)

	_, env = f.do(t, http.MethodGet, "/products/6/analysis", nil)
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, int64(6), stored.ProductID)
	assert.Equal(t, model.AnalysisStatusPending, stored.Status)

	status, _ := f.do(t, http.MethodGet, "/products/404/analysis", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListProducts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.PutProduct(model.Product{ID: 1, Name: "Abrigo"})
	f.store.PutProduct(model.Product{ID: 2, Name: "Bufanda"})
	f.store.PutProduct(model.Product{ID: 3, Name: "Chaqueta"})
	f.store.PutProduct(model.Product{ID: 4, Name: "Borrador", Status: model.ProductStatusDraft})
	require.NoError(t, f.store.SetMeta(ctx, 1, model.MetaAnalyzedAt, "2025-03-01 10:00:00"))
	require.NoError(t, f.store.SetMeta(ctx, 1, model.MetaConfidence, 0.92))
	require.NoError(t, f.store.SetMeta(ctx, 2, model.MetaAnalyzedAt, "2025-03-01 10:00:00"))
	require.NoError(t, f.store.SetMeta(ctx, 2, model.MetaConfidence, 0.55))

	_, env := f.do(t, http.MethodGet, "/products", nil)
	var list ProductList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(3), list.Total)
	assert.Equal(t, DefaultPerPage, list.PerPage)
	require.Len(t, list.Products, 3)

	assert.Equal(t, model.AnalysisStatusAnalyzed, list.Products[0].Status)
	assert.Equal(t, "high", list.Products[0].ConfidenceClass)
	require.NotNil(t, list.Products[0].ConfidencePercent)
	assert.Equal(t, 92, *list.Products[0].ConfidencePercent)
	assert.Equal(t, model.AnalysisStatusLowConfidence, list.Products[1].Status)
	assert.Equal(t, "medium", list.Products[1].ConfidenceClass)
	assert.Equal(t, model.AnalysisStatusPending, list.Products[2].Status)
	assert.Nil(t, list.Products[2].ConfidencePercent)

	_, env = f.do(t, http.MethodGet, "/products?filter=low-confidence", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Products, 1)
	assert.Equal(t, int64(2), list.Products[0].ID)

	_, env = f.do(t, http.MethodGet, "/products?filter=unanalyzed", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Products, 1)
	assert.Equal(t, int64(3), list.Products[0].ID)

	_, env = f.do(t, http.MethodGet, "/products?page=2&per_page=2", nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(2), list.TotalPages)
	require.Len(t, list.Products, 1)
	assert.Equal(t, "Chaqueta", list.Products[0].Name)

	status, env := f.do(t, http.MethodGet, "/products?filter=everything", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", env.ErrorCode)
}

func TestSearchTaxonomies(t *testing.T) {
	f := newFixture(t, nil)

	_, env := f.do(t, http.MethodGet, "/taxonomies/search?query=%20%20", nil)
	assert.JSONEq(t, `{"categories":[]}`, string(env.Data))
	assert.Empty(t, f.searcher.params)

	_, env = f.do(t, http.MethodGet, "/taxonomies/search?query=vestido&limit=5", nil)
	assert.Contains(t, string(env.Data), "Dresses")
	require.Len(t, f.searcher.params, 1)
	assert.Equal(t, api.SearchParams{Query: "vestido", Limit: 5}, f.searcher.params[0])

	_, _ = f.do(t, http.MethodGet, "/taxonomies/search?query=vestido&limit=x", nil)
	assert.Equal(t, 0, f.searcher.params[1].Limit)
}

func TestBatches(t *testing.T) {
	f := newFixture(t, nil)

	status, env := f.do(t, http.MethodPost, "/batches", map[string]interface{}{"product_ids": []int64{3, 1}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int64{3, 1}, f.batches.submitted)
	var sub batch.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, "job-1", sub.JobID)

	status, env = f.do(t, http.MethodPost, "/batches", map[string]interface{}{"product_ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No products selected.", env.Message)

	status, env = f.do(t, http.MethodPost, "/batches", map[string]interface{}{"product_ids": "all"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", env.ErrorCode)

	_, env = f.do(t, http.MethodGet, "/batches/job-1", nil)
	assert.Equal(t, "job-1", f.batches.polled)
	var poll batch.PollResult
	require.NoError(t, json.Unmarshal(env.Data, &poll))
	assert.Equal(t, model.JobStatusProcessing, poll.Status)
}

func TestGetUsage(t *testing.T) {
	f := newFixture(t, nil)

	_, env := f.do(t, http.MethodGet, "/usage", nil)
	assert.Contains(t, string(env.Data), `"can_analyze":true`)
	_, _ = f.do(t, http.MethodGet, "/usage?refresh=true", nil)
	assert.Equal(t, []bool{false, true}, f.usage.refreshed)
}

func savedEvent(id int64, status string) map[string]interface{} {
	return map[string]interface{}{
		"product": map[string]interface{}{"id": id, "name": "Vestido", "status": status},
	}
}

func TestProductSaved(t *testing.T) {
	f := newFixture(t, nil)

	event := savedEvent(9, model.ProductStatusPublish)
	event["autosave"] = true
	_, env := f.do(t, http.MethodPost, "/hooks/product-saved", event)
	var res ProductSavedResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, SkipAutosave, res.Skipped)
	assert.False(t, res.Synced)

	_, env = f.do(t, http.MethodPost, "/hooks/product-saved", savedEvent(9, model.ProductStatusDraft))
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Synced)
	assert.Equal(t, SkipNotPublished, res.Skipped)
	p, err := f.store.GetProduct(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "Vestido", p.Name)

	_, env = f.do(t, http.MethodPost, "/hooks/product-saved", savedEvent(9, model.ProductStatusPublish))
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Analyzed)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []analyzeCall{{9, false}}, f.analyzer.calls)

	f.analyzer.stored[9] = &analyzer.StoredAnalysis{ProductID: 9}
	_, env = f.do(t, http.MethodPost, "/hooks/product-saved", savedEvent(9, model.ProductStatusPublish))
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, SkipAlreadyAnalyzed, res.Skipped)
	assert.Len(t, f.analyzer.calls, 1)

	status, _ := f.do(t, http.MethodPost, "/hooks/product-saved", savedEvent(0, model.ProductStatusPublish))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProductSaved_AnalysisFailureDoesNotFailHook(t *testing.T) {
	f := newFixture(t, nil)
	f.analyzer.err = apperror.ErrNoAPIKey

	status, env := f.do(t, http.MethodPost, "/hooks/product-saved", savedEvent(3, model.ProductStatusPublish))
	assert.Equal(t, http.StatusOK, status)
	var res ProductSavedResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Analyzed)
	assert.Equal(t, "not_configured", res.ErrorCode)
	assert.Equal(t, "TaxoAI API key is not configured.", res.Error)
}

func TestProductSaved_AutoAnalyzeDisabled(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.AutoAnalyze = false })

	_, env := f.do(t, http.MethodPost, "/hooks/product-saved", savedEvent(3, model.ProductStatusPublish))
	var res ProductSavedResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Synced)
	assert.Equal(t, SkipDisabled, res.Skipped)
	assert.Empty(t, f.analyzer.calls)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.TaskResults = func() map[string]task.Result {
			return map[string]task.Result{
				"transient_sweep": {TaskName: "transient_sweep", Success: true, Duration: time.Second},
			}
		}
	})

	status, env := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	require.Len(t, health.Tasks, 1)
	assert.Equal(t, "1s", health.Tasks[0].Duration)

	f = newFixture(t, func(d *Dependencies) {
		d.Ping = func(context.Context) error { return errors.New("mongo down") }
	})
	status, env = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "mongo down", health.Database)
}
