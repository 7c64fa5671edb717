package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"taxoai/internal/model"
)

// ProductWriter 可写入产品基础字段的存储
type ProductWriter interface {
	UpsertProduct(ctx context.Context, p model.Product) error
}

// seedFile 产品种子文件格式
type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID            int64    `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Price         *float64 `yaml:"price"`
	Status        string   `yaml:"status"`
	FeaturedImage string   `yaml:"featured_image"`
	Gallery       []string `yaml:"gallery"`
}

// ParseSeed 解析 YAML 产品种子数据
func ParseSeed(data []byte) ([]model.Product, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed data: %w", err)
	}

	products := make([]model.Product, 0, len(seed.Products))
	for i, p := range seed.Products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("seed product %d: id must be positive", i)
		}
		status := p.Status
		if status == "" {
			status = model.ProductStatusPublish
		}
		products = append(products, model.Product{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			Price:         p.Price,
			Status:        status,
			FeaturedImage: p.FeaturedImage,
			Gallery:       p.Gallery,
		})
	}
	return products, nil
}

// LoadSeedFile 读取种子文件并写入存储，返回写入数量
func LoadSeedFile(ctx context.Context, w ProductWriter, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	products, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	for i, p := range products {
		if err := w.UpsertProduct(ctx, p); err != nil {
			return i, fmt.Errorf("failed to seed product %d: %w", p.ID, err)
		}
	}
	return len(products), nil
}
