// Package catalog загружает товары магазина из YAML и засевает ими хранилище.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogFile struct {
	Products []domain.Product `yaml:"products"`
}

// Parse разбирает YAML каталога и проверяет идентификаторы товаров и вариантов.
func Parse(data []byte) ([]domain.Product, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Products))
	for i := range file.Products {
		p := &file.Products[i]
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("catalog product %d: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", p.ID)
		}
		seen[p.ID] = struct{}{}

		slugs := make(map[string]struct{}, len(p.Variants))
		for _, v := range p.Variants {
			if v.VariantSlug == "" {
				return nil, fmt.Errorf("catalog product %q: variant slug is required", p.ID)
			}
			if _, dup := slugs[v.VariantSlug]; dup {
				return nil, fmt.Errorf("catalog product %q: duplicate variant %q", p.ID, v.VariantSlug)
			}
			slugs[v.VariantSlug] = struct{}{}
		}
	}
	return file.Products, nil
}

// Load читает каталог из файла.
func Load(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Seed сохраняет товары в хранилище. Существующие записи перезаписываются целиком,
// включая сток, поэтому засевать стоит только при первом запуске или в dev-окружении.
func Seed(ctx context.Context, repo domain.ProductRepository, products []domain.Product, logger *log.Entry) (int, error) {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	for i, p := range products {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	logger.WithField("products", len(products)).Info("catalog seeded")
	return len(products), nil
}
