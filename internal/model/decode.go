package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errNotObject = errors.New("not a JSON object")

// SectionError 响应中被丢弃的部分
type SectionError struct {
	Section string
	Err     error
}

func (e SectionError) Error() string {
	return e.Section + ": " + e.Err.Error()
}

func (e SectionError) Unwrap() error {
	return e.Err
}

// DecodeAnalysisResult 逐个部分解码分析结果
// 格式错误的部分被丢弃并在 SectionError 中报告，其余部分照常保留；
// 只有 data 本身不是 JSON 对象时才返回 error
func DecodeAnalysisResult(data []byte) (AnalysisResult, []SectionError, error) {
	var out AnalysisResult
	fields, err := objectFields(data)
	if err != nil {
		return out, nil, err
	}

	var dropped []SectionError
	section := func(name string, dest any) bool {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			return false
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			dropped = append(dropped, SectionError{Section: name, Err: err})
			return false
		}
		return true
	}

	var classification Classification
	if section("classification", &classification) {
		out.Classification = &classification
	}
	var seo SEOData
	if section("seo", &seo) {
		out.SEO = &seo
	}
	var attributes Attributes
	if section("attributes", &attributes) {
		out.Attributes = &attributes
	}
	if raw, ok := fields["image_analysis"]; ok && !isNull(raw) {
		out.ImageAnalysis = append(json.RawMessage(nil), bytes.TrimSpace(raw)...)
	}
	var processing FlexInt64
	if section("processing_time_ms", &processing) {
		out.ProcessingTimeMs = &processing
	}
	var cached bool
	if section("cached", &cached) {
		out.Cached = &cached
	}

	return out, dropped, nil
}

// UnmarshalJSON 实现 json.Unmarshaler，格式错误的部分静默丢弃
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	out, _, err := DecodeAnalysisResult(data)
	if err != nil {
		return err
	}
	*r = out
	return nil
}

// IsEmpty 结果中没有任何可用部分
func (r *AnalysisResult) IsEmpty() bool {
	return r == nil || (r.Classification == nil &&
		r.SEO == nil &&
		r.Attributes == nil &&
		len(r.ImageAnalysis) == 0 &&
		r.ProcessingTimeMs == nil &&
		r.Cached == nil)
}

// DecodeBatchJob 解码批量任务，result 按元素解码并保留位置
// 非对象元素解码为空结果占位，不影响其他元素
func DecodeBatchJob(data []byte) (BatchJob, []SectionError, error) {
	var out BatchJob
	fields, err := objectFields(data)
	if err != nil {
		return out, nil, err
	}

	out.JobID = looseString(fields["job_id"])
	out.Status = looseString(fields["status"])
	out.Error = looseString(fields["error"])
	if raw, ok := fields["total_products"]; ok {
		_ = out.TotalProducts.UnmarshalJSON(raw)
	}
	if raw, ok := fields["processed_products"]; ok {
		_ = out.ProcessedProducts.UnmarshalJSON(raw)
	}

	raw, ok := fields["result"]
	if !ok || isNull(raw) {
		return out, nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out, []SectionError{{Section: "result", Err: err}}, nil
	}

	var dropped []SectionError
	out.Result = make([]AnalysisResult, len(items))
	for i, item := range items {
		result, sections, err := DecodeAnalysisResult(item)
		if err != nil {
			dropped = append(dropped, SectionError{Section: fmt.Sprintf("result[%d]", i), Err: err})
			continue
		}
		for _, s := range sections {
			s.Section = fmt.Sprintf("result[%d].%s", i, s.Section)
			dropped = append(dropped, s)
		}
		out.Result[i] = result
	}
	return out, dropped, nil
}

// UnmarshalJSON 实现 json.Unmarshaler
func (j *BatchJob) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	out, _, err := DecodeBatchJob(data)
	if err != nil {
		return err
	}
	*j = out
	return nil
}

// UnmarshalJSON 逐字段宽松解码 SEO 数据，坏的关键词元素被跳过
func (s *SEOData) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	fields, err := objectFields(data)
	if err != nil {
		return err
	}

	out := SEOData{
		MetaTitle:            looseString(fields["meta_title"]),
		MetaDescription:      looseString(fields["meta_description"]),
		OptimizedTitle:       looseString(fields["optimized_title"]),
		OptimizedDescription: looseString(fields["optimized_description"]),
		Keywords:             decodeKeywords(fields["keywords"]),
	}
	if raw, ok := fields["tags"]; ok {
		if err := out.Tags.UnmarshalJSON(raw); err != nil {
			out.Tags = nil
		}
	}
	*s = out
	return nil
}

func decodeKeywords(raw json.RawMessage) []Keyword {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	if raw[0] != '[' {
		var k Keyword
		if err := k.UnmarshalJSON(raw); err != nil || k.Keyword == "" {
			return nil
		}
		return []Keyword{k}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []Keyword
	for _, item := range items {
		var k Keyword
		if err := k.UnmarshalJSON(item); err != nil || k.Keyword == "" {
			continue
		}
		out = append(out, k)
	}
	return out
}

func objectFields(data []byte) (map[string]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// looseString 标量转字符串，对象和数组为空字符串
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return scalarString(v)
}
