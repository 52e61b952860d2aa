package shipping

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// couriersFile: формат YAML-файла с настройками курьеров.
type couriersFile struct {
	Couriers []domain.Courier `yaml:"couriers"`
}

// Directory: неизменяемый справочник курьеров, загруженный при старте.
type Directory struct {
	couriers map[string]domain.Courier
	keys     []string
}

// NewDirectory строит справочник из списка курьеров. Порядок ключей сохраняется.
func NewDirectory(couriers []domain.Courier) (*Directory, error) {
	d := &Directory{couriers: make(map[string]domain.Courier, len(couriers))}
	for _, c := range couriers {
		key := strings.TrimSpace(c.Key)
		if key == "" {
			return nil, fmt.Errorf("courier key is required")
		}
		if _, dup := d.couriers[key]; dup {
			return nil, fmt.Errorf("duplicate courier %q", key)
		}
		for zi, zone := range c.DeliveryZones {
			for ri, r := range zone.Range {
				if r.WeightFrom > r.WeightTo {
					return nil, fmt.Errorf("courier %q zone %d range %d: weightFrom > weightTo", key, zi, ri)
				}
			}
		}
		c.Key = key
		d.couriers[key] = c
		d.keys = append(d.keys, key)
	}
	return d, nil
}

// ParseDirectory разбирает YAML со списком курьеров.
func ParseDirectory(data []byte) (*Directory, error) {
	var file couriersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse couriers: %w", err)
	}
	return NewDirectory(file.Couriers)
}

// LoadDirectory читает справочник курьеров из файла.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read couriers file: %w", err)
	}
	return ParseDirectory(data)
}

// Find возвращает включённого курьера по ключу.
func (d *Directory) Find(key string) (domain.Courier, bool) {
	if d == nil {
		return domain.Courier{}, false
	}
	c, ok := d.couriers[key]
	if !ok || !c.Enabled {
		return domain.Courier{}, false
	}
	return c, true
}

// Enabled возвращает включённых курьеров в порядке конфигурации.
func (d *Directory) Enabled() []domain.Courier {
	if d == nil {
		return nil
	}
	result := make([]domain.Courier, 0, len(d.keys))
	for _, key := range d.keys {
		if c := d.couriers[key]; c.Enabled {
			result = append(result, c)
		}
	}
	return result
}
