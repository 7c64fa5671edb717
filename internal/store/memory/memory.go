package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taxoai/internal/model"
	"taxoai/internal/sanitize"
	"taxoai/internal/store"
)

// Store 进程内存储，实现 OptionStore、TransientStore、ProductStore 和 Sweeper
// 用于单机运行和测试
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	options        map[string]string
	transients     map[string]transient
	products       map[int64]*productRecord
	terms          map[string][]model.Term // taxonomy -> terms
	attrTaxonomies map[string]model.AttributeTaxonomy
}

type transient struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

type productRecord struct {
	product model.Product
	meta    map[string][]byte
	terms   map[string][]string // taxonomy -> slugs
	attrs   []model.ProductAttribute
}

// Option 存储选项
type Option func(*Store)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New 创建内存存储
func New(opts ...Option) *Store {
	s := &Store{
		now:            time.Now,
		options:        make(map[string]string),
		transients:     make(map[string]transient),
		products:       make(map[int64]*productRecord),
		terms:          make(map[string][]model.Term),
		attrTaxonomies: make(map[string]model.AttributeTaxonomy),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ store.OptionStore    = (*Store)(nil)
	_ store.TransientStore = (*Store)(nil)
	_ store.ProductStore   = (*Store)(nil)
	_ store.Sweeper        = (*Store)(nil)
	_ store.ProductWriter  = (*Store)(nil)
)

// ---- options ----

func (s *Store) GetOption(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.options[name]
	return v, ok, nil
}

func (s *Store) SetOption(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[name] = value
	return nil
}

func (s *Store) DeleteOption(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.options, name)
	return nil
}

// ---- transients ----

func (s *Store) GetTransient(_ context.Context, name string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transients[name]
	if !ok {
		return false, nil
	}
	if !t.expiresAt.IsZero() && s.now().After(t.expiresAt) {
		delete(s.transients, name)
		return false, nil
	}
	if err := json.Unmarshal(t.value, dest); err != nil {
		return false, fmt.Errorf("failed to decode transient %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) SetTransient(_ context.Context, name string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode transient %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := transient{value: data}
	if ttl > 0 {
		t.expiresAt = s.now().Add(ttl)
	}
	s.transients[name] = t
	return nil
}

func (s *Store) DeleteTransient(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transients, name)
	return nil
}

// SweepExpired 删除已过期的 transient
func (s *Store) SweepExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for name, t := range s.transients {
		if !t.expiresAt.IsZero() && now.After(t.expiresAt) {
			delete(s.transients, name)
			n++
		}
	}
	return n, nil
}

// ---- products ----

// PutProduct 新增或替换产品基础字段，保留已有元数据和词条
func (s *Store) PutProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Status == "" {
		p.Status = model.ProductStatusPublish
	}
	if rec, ok := s.products[p.ID]; ok {
		rec.product = p
		return
	}
	s.products[p.ID] = &productRecord{
		product: p,
		meta:    make(map[string][]byte),
		terms:   make(map[string][]string),
	}
}

// UpsertProduct 实现 store.ProductWriter
func (s *Store) UpsertProduct(_ context.Context, p model.Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("invalid product id %d", p.ID)
	}
	s.PutProduct(p)
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := rec.product
	p.Gallery = append([]string(nil), rec.product.Gallery...)
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, q model.ProductQuery) ([]model.ProductListing, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var listings []model.ProductListing
	for _, rec := range s.products {
		if rec.product.Status != model.ProductStatusPublish {
			continue
		}

		l := model.ProductListing{ID: rec.product.ID, Name: rec.product.Name}
		if raw, ok := rec.meta[model.MetaAnalyzedAt]; ok {
			_ = json.Unmarshal(raw, &l.AnalyzedAt)
		}
		if raw, ok := rec.meta[model.MetaGoogleCategory]; ok {
			_ = json.Unmarshal(raw, &l.GoogleCategory)
		}
		if raw, ok := rec.meta[model.MetaConfidence]; ok {
			var c float64
			if json.Unmarshal(raw, &c) == nil {
				l.Confidence = &c
			}
		}

		switch q.Filter {
		case model.ProductFilterUnanalyzed:
			if _, ok := rec.meta[model.MetaAnalyzedAt]; ok {
				continue
			}
		case model.ProductFilterLowConfidence:
			if l.Confidence == nil || *l.Confidence >= q.Threshold {
				continue
			}
		}
		listings = append(listings, l)
	}

	sort.Slice(listings, func(i, j int) bool {
		if listings[i].Name != listings[j].Name {
			return listings[i].Name < listings[j].Name
		}
		return listings[i].ID < listings[j].ID
	})

	total := int64(len(listings))
	start := q.Offset
	if start > len(listings) {
		start = len(listings)
	}
	end := len(listings)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return listings[start:end], total, nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, update model.ProductUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if update.Name != nil {
		rec.product.Name = *update.Name
	}
	if update.Description != nil {
		rec.product.Description = *update.Description
	}
	rec.product.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetMeta(_ context.Context, id int64, key string, dest any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[id]
	if !ok {
		return false, store.ErrNotFound
	}
	raw, ok := rec.meta[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode meta %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) SetMeta(_ context.Context, id int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode meta %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.meta[key] = data
	return nil
}

func (s *Store) DeleteMeta(_ context.Context, id int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(rec.meta, key)
	return nil
}

// ---- terms ----

func (s *Store) FindOrCreateTerm(_ context.Context, taxonomy, name string) (*model.Term, error) {
	name = strings.TrimSpace(name)
	slug := sanitize.Slug(name)
	if name == "" || slug == "" {
		return nil, fmt.Errorf("invalid term name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.terms[taxonomy] {
		if strings.EqualFold(t.Name, name) {
			term := t
			return &term, nil
		}
	}
	for _, t := range s.terms[taxonomy] {
		if t.Slug == slug {
			term := t
			return &term, nil
		}
	}

	term := model.Term{Taxonomy: taxonomy, Name: name, Slug: slug}
	s.terms[taxonomy] = append(s.terms[taxonomy], term)
	return &term, nil
}

func (s *Store) SetObjectTerms(_ context.Context, id int64, taxonomy string, slugs []string, appendTerms bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, slug := range slugs {
		if !s.termExists(taxonomy, slug) {
			return fmt.Errorf("term %s/%s: %w", taxonomy, slug, store.ErrNotFound)
		}
	}

	var next []string
	if appendTerms {
		next = append(next, rec.terms[taxonomy]...)
	}
	for _, slug := range slugs {
		if !contains(next, slug) {
			next = append(next, slug)
		}
	}
	rec.terms[taxonomy] = next
	return nil
}

func (s *Store) ObjectTerms(_ context.Context, id int64, taxonomy string) ([]model.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	var out []model.Term
	for _, slug := range rec.terms[taxonomy] {
		for _, t := range s.terms[taxonomy] {
			if t.Slug == slug {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) termExists(taxonomy, slug string) bool {
	for _, t := range s.terms[taxonomy] {
		if t.Slug == slug {
			return true
		}
	}
	return false
}

// ---- attributes ----

func (s *Store) EnsureAttributeTaxonomy(_ context.Context, attr model.AttributeTaxonomy) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attrTaxonomies[attr.Slug]; ok {
		return false, nil
	}
	s.attrTaxonomies[attr.Slug] = attr
	return true, nil
}

func (s *Store) Attributes(_ context.Context, id int64) ([]model.ProductAttribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]model.ProductAttribute, len(rec.attrs))
	copy(out, rec.attrs)
	return out, nil
}

func (s *Store) SetAttributes(_ context.Context, id int64, attrs []model.ProductAttribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.attrs = append([]model.ProductAttribute(nil), attrs...)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
