package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sections(errs []SectionError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Section)
	}
	return out
}

func TestDecodeAnalysisResult_DropsOnlyBadSections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		dropped []string
		check   func(t *testing.T, r AnalysisResult)
	}{
		{
			name:    "attributes array",
			body:    `{"classification": {"confidence": 0.9}, "attributes": []}`,
			dropped: []string{"attributes"},
			check: func(t *testing.T, r AnalysisResult) {
				assert.InDelta(t, 0.9, r.Confidence(), 1e-9)
				assert.Nil(t, r.Attributes)
			},
		},
		{
			name:    "seo array",
			body:    `{"classification": {"confidence": 0.75}, "seo": [], "attributes": {"color": "azul"}}`,
			dropped: []string{"seo"},
			check: func(t *testing.T, r AnalysisResult) {
				assert.InDelta(t, 0.75, r.Confidence(), 1e-9)
				assert.Nil(t, r.SEO)
				require.NotNil(t, r.Attributes)
				assert.Equal(t, StringList{"azul"}, r.Attributes.Color)
			},
		},
		{
			name: "mixed tags",
			body: `{"seo": {"meta_title": "Silla", "tags": ["x", 5]}}`,
			check: func(t *testing.T, r AnalysisResult) {
				require.NotNil(t, r.SEO)
				assert.Equal(t, "Silla", r.SEO.MetaTitle)
				assert.Equal(t, StringList{"x", "5"}, r.SEO.Tags)
			},
		},
		{
			name: "bad keyword element",
			body: `{"seo": {"keywords": [{"keyword": "silla", "volume": "900"}, ["nested"], 42, null]}}`,
			check: func(t *testing.T, r AnalysisResult) {
				require.NotNil(t, r.SEO)
				require.Len(t, r.SEO.Keywords, 2)
				assert.Equal(t, "silla", r.SEO.FocusKeyword())
				require.NotNil(t, r.SEO.Keywords[0].Volume)
				assert.Equal(t, FlexInt64(900), *r.SEO.Keywords[0].Volume)
				assert.Equal(t, "42", r.SEO.Keywords[1].Keyword)
			},
		},
		{
			name:    "classification and cached with wrong types",
			body:    `{"classification": "Furniture", "cached": "no", "processing_time_ms": "12"}`,
			dropped: []string{"classification", "cached"},
			check: func(t *testing.T, r AnalysisResult) {
				assert.Nil(t, r.Classification)
				assert.Nil(t, r.Cached)
				require.NotNil(t, r.ProcessingTimeMs)
				assert.Equal(t, FlexInt64(12), *r.ProcessingTimeMs)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, dropped, err := DecodeAnalysisResult([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.dropped, sections(dropped))
			tt.check(t, r)
		})
	}
}

func TestDecodeAnalysisResult_NotAnObject(t *testing.T) {
	_, _, err := DecodeAnalysisResult([]byte(`[1, 2]`))
	assert.Error(t, err)

	var r AnalysisResult
	assert.Error(t, json.Unmarshal([]byte(`"text"`), &r))
	require.NoError(t, json.Unmarshal([]byte(`null`), &r))
	assert.True(t, r.IsEmpty())
}

func TestAnalysisResult_RoundTrip(t *testing.T) {
	conf := FlexFloat(0.66)
	category := "Apparel & Accessories"
	in := AnalysisResult{
		Classification: &Classification{GoogleCategory: &category, Confidence: &conf},
		SEO:            &SEOData{MetaTitle: "t", Keywords: []Keyword{{Keyword: "k"}}, Tags: StringList{"a"}},
		ImageAnalysis:  json.RawMessage(`{"labels":["shirt"]}`),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out AnalysisResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestDecodeBatchJob_KeepsPositions(t *testing.T) {
	body := `{
		"job_id": "job-7",
		"status": "completed",
		"total_products": "3",
		"processed_products": 3,
		"result": [
			{"classification": {"confidence": 0.9}, "attributes": []},
			[1, 2],
			{"classification": {"confidence": 0.2}}
		]
	}`

	job, dropped, err := DecodeBatchJob([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "job-7", job.JobID)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, FlexInt64(3), job.TotalProducts)
	assert.Equal(t, []string{"result[0].attributes", "result[1]"}, sections(dropped))

	require.Len(t, job.Result, 3)
	assert.InDelta(t, 0.9, job.Result[0].Confidence(), 1e-9)
	assert.True(t, job.Result[1].IsEmpty())
	assert.InDelta(t, 0.2, job.Result[2].Confidence(), 1e-9)
}

func TestDecodeBatchJob_ResultNotAnArray(t *testing.T) {
	job, dropped, err := DecodeBatchJob([]byte(`{"job_id": "job-8", "status": "completed", "result": {"a": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, "job-8", job.JobID)
	assert.Nil(t, job.Result)
	assert.Equal(t, []string{"result"}, sections(dropped))

	var viaJSON BatchJob
	require.NoError(t, json.Unmarshal([]byte(`{"status": "processing", "result": "later"}`), &viaJSON))
	assert.Equal(t, JobStatusProcessing, viaJSON.Status)
}

func TestIsKnownJobStatus(t *testing.T) {
	for _, s := range []string{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		assert.True(t, IsKnownJobStatus(s), s)
	}
	for _, s := range []string{"", "queued", "Completed"} {
		assert.False(t, IsKnownJobStatus(s), s)
	}
}
