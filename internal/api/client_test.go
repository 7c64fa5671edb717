package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"taxoai/internal/apperror"
	"taxoai/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "tx_key", Timeout: 2 * time.Second})
}

func TestClient_AnalyzeProduct(t *testing.T) {
	price := 19.99
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/products/analyze", r.URL.Path)
		assert.Equal(t, "tx_key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Camiseta", payload["name"])
		assert.Equal(t, "es", payload["language"])
		assert.Equal(t, "42", payload["product_id"])
		assert.InDelta(t, 19.99, payload["price"], 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"classification": {"google_category": "Apparel & Accessories > Clothing > Shirts & Tops", "google_category_id": "212", "confidence": 0.92},
			"seo": {"keywords": [{"keyword": "camiseta roja", "volume": 1200}, "algodon"], "tags": ["verano"]},
			"attributes": {"color": "rojo", "material": ["algodón", ""]},
			"processing_time_ms": 840
		}`))
	})

	result, err := client.AnalyzeProduct(context.Background(), model.AnalysisPayload{
		Name: "Camiseta", Language: "es", ProductID: "42", Price: &price,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.92, result.Confidence(), 1e-9)
	assert.Equal(t, int64(212), result.Classification.CategoryID())
	assert.Equal(t, "camiseta roja", result.SEO.FocusKeyword())
	assert.Equal(t, "algodon", result.SEO.Keywords[1].Keyword)
	assert.Equal(t, model.StringList{"rojo"}, result.Attributes.Color)
	assert.Equal(t, model.StringList{"algodón"}, result.Attributes.Material)
}

func TestClient_NonObjectBodyDecodesEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["not", "an", "object"]`))
	})

	result, err := client.AnalyzeProduct(context.Background(), model.AnalysisPayload{Name: "x"})
	require.NoError(t, err)
	assert.Nil(t, result.Classification)
	assert.Equal(t, 0.0, result.Confidence())
}

func TestClient_MalformedSectionsAreDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"classification": {"google_category": "Home & Garden > Decor", "confidence": 0.81},
			"seo": {"meta_title": "Jarrón", "keywords": ["jarrón", ["bad"], {"keyword": "cerámica"}], "tags": ["x", 5]},
			"attributes": [],
			"cached": "yes"
		}`))
	}))
	t.Cleanup(srv.Close)
	client := NewClient(Config{BaseURL: srv.URL, APIKey: "tx_key", Logger: zap.New(core)})

	result, err := client.AnalyzeProduct(context.Background(), model.AnalysisPayload{Name: "Jarrón"})
	require.NoError(t, err)

	assert.InDelta(t, 0.81, result.Confidence(), 1e-9)
	assert.Equal(t, "Home & Garden > Decor", result.Classification.CategoryPath())
	require.NotNil(t, result.SEO)
	assert.Equal(t, "Jarrón", result.SEO.MetaTitle)
	require.Len(t, result.SEO.Keywords, 2)
	assert.Equal(t, "jarrón", result.SEO.FocusKeyword())
	assert.Equal(t, "cerámica", result.SEO.Keywords[1].Keyword)
	assert.Equal(t, model.StringList{"x", "5"}, result.SEO.Tags)
	assert.Nil(t, result.Attributes)
	assert.Nil(t, result.Cached)

	dropped := logs.FilterMessage("dropping malformed response section").All()
	require.Len(t, dropped, 2)
	assert.Equal(t, "attributes", dropped[0].ContextMap()["section"])
	assert.Equal(t, "cached", dropped[1].ContextMap()["section"])
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		body      string
		wantCode  apperror.Code
		wantMsg   string
		wantRetry time.Duration
	}{
		{
			name:     "unauthorized",
			status:   401,
			wantCode: apperror.CodeUnauthorized,
			wantMsg:  "Invalid API key. Please check your TaxoAI settings.",
		},
		{
			name:     "payment required",
			status:   402,
			wantCode: apperror.CodePaymentRequired,
			wantMsg:  "Payment required. Please upgrade your TaxoAI plan.",
		},
		{
			name:      "rate limited with retry-after",
			status:    429,
			header:    map[string]string{"Retry-After": "60"},
			wantCode:  apperror.CodeRateLimited,
			wantMsg:   "Rate limit exceeded. Please try again in 60 seconds.",
			wantRetry: 60 * time.Second,
		},
		{
			name:     "rate limited without retry-after",
			status:   429,
			wantCode: apperror.CodeRateLimited,
			wantMsg:  "Rate limit exceeded. Please try again later.",
		},
		{
			name:     "server error 502",
			status:   502,
			wantCode: apperror.CodeServerError,
			wantMsg:  "TaxoAI server error. Please try again later.",
		},
		{
			name:     "api error with message",
			status:   422,
			body:     `{"message": "name is required"}`,
			wantCode: apperror.CodeAPIError,
			wantMsg:  "TaxoAI API error (HTTP 422): name is required",
		},
		{
			name:     "api error without message",
			status:   404,
			body:     `not json`,
			wantCode: apperror.CodeAPIError,
			wantMsg:  "TaxoAI API error (HTTP 404): Unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetUsage(context.Background())
			require.Error(t, err)

			var appErr *apperror.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantMsg, appErr.Message)
			assert.Equal(t, tt.wantRetry, appErr.RetryAfter)
			assert.Equal(t, tt.status, appErr.Status)
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, APIKey: "k", Timeout: time.Second})
	_, err := client.GetUsage(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNetworkError, apperror.CodeOf(err))
	assert.Contains(t, apperror.MessageOf(err), "TaxoAI API request failed (get_usage)")
}

func TestClient_Timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(func() {
		close(done)
		srv.Close()
	})

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	_, err := client.GetUsage(context.Background())
	assert.Equal(t, apperror.CodeNetworkError, apperror.CodeOf(err))
}

func TestClient_SearchTaxonomies(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/taxonomies/search", r.URL.Path)
		assert.Equal(t, "zapatos de mujer", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"categories": [{"id": 187, "name": "Shoes", "path": "Apparel & Accessories > Shoes"}]}`))
	})

	result, err := client.SearchTaxonomies(context.Background(), SearchParams{Query: " zapatos de mujer "})
	require.NoError(t, err)
	require.Len(t, result.Categories, 1)
	assert.Equal(t, model.FlexInt64(187), result.Categories[0].ID)

	_, err = client.SearchTaxonomies(context.Background(), SearchParams{Query: "  "})
	assert.Equal(t, apperror.CodeInvalidInput, apperror.CodeOf(err))
}

func TestClient_SearchTaxonomiesEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	result, err := client.SearchTaxonomies(context.Background(), SearchParams{Query: "shoes", Limit: 3})
	require.NoError(t, err)
	assert.NotNil(t, result.Categories)
	assert.Empty(t, result.Categories)
}

func TestClient_SubmitBatchAndGetJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/products/batch":
			var body struct {
				Products []model.AnalysisPayload `json:"products"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Products, 2)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"job_id": "job-1", "status": "pending"}`))
		case r.Method == http.MethodGet && r.URL.EscapedPath() == "/v1/jobs/job%2F1":
			_, _ = w.Write([]byte(`{"job_id": "job/1", "status": "completed", "total_products": 2, "processed_products": 2, "result": [{}, {"classification": {"confidence": 0.5}}]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	sub, err := client.SubmitBatch(context.Background(), []model.AnalysisPayload{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "job-1", sub.JobID)

	job, err := client.GetJob(context.Background(), "job/1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.True(t, job.IsTerminal())
	require.Len(t, job.Result, 2)
	assert.InDelta(t, 0.5, job.Result[1].Confidence(), 1e-9)
}

func TestClient_GetJobKeepsPositionsAroundBadElements(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job_id": "job-2", "status": "completed", "result": [
			{"classification": {"confidence": 0.9}, "seo": []},
			"oops",
			{"classification": {"confidence": 0.3}}
		]}`))
	})

	job, err := client.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Len(t, job.Result, 3)
	assert.InDelta(t, 0.9, job.Result[0].Confidence(), 1e-9)
	assert.Nil(t, job.Result[0].SEO)
	assert.True(t, job.Result[1].IsEmpty())
	assert.InDelta(t, 0.3, job.Result[2].Confidence(), 1e-9)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	d, ok := parseRetryAfter("30", now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	_, ok = parseRetryAfter("soon", now)
	assert.False(t, ok)
}

func TestSearchParams(t *testing.T) {
	p := SearchParams{Query: "shoes", Limit: 500}
	assert.NoError(t, p.Validate())
	assert.Equal(t, "50", p.ToQueryParams()["limit"])

	p = SearchParams{Query: "shoes", Limit: -1}
	assert.Error(t, p.Validate())
}
