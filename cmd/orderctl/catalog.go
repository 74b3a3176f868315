package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/finitefield/order-desk/internal/domain"
)

// catalogFile is the import document: a list of products, each with its SKUs.
type catalogFile struct {
	Products []productEntry `yaml:"products"`
}

type productEntry struct {
	ID            string     `yaml:"id"`
	ProductNumber string     `yaml:"productNumber"`
	ProductName   string     `yaml:"productName"`
	DisplayName   string     `yaml:"displayName"`
	SalePrice     int64      `yaml:"salePrice"`
	CostPrice     int64      `yaml:"costPrice"`
	IsHem         bool       `yaml:"isHem"`
	SortNum       int        `yaml:"sortNum"`
	SKUs          []skuEntry `yaml:"skus"`
}

type skuEntry struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"displayName"`
	Size        string `yaml:"size"`
	SortNum     int    `yaml:"sortNum"`
}

// decodeCatalog parses a catalog file. Unknown keys are rejected so typos surface before any
// write happens.
func decodeCatalog(r io.Reader) ([]domain.Product, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog file is empty")
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Products) == 0 {
		return nil, errors.New("catalog file lists no products")
	}

	seen := make(map[string]string)
	products := make([]domain.Product, 0, len(file.Products))
	for i, p := range file.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("product %d: id is required", i)
		}
		product := domain.Product{
			ID:            id,
			ProductNumber: p.ProductNumber,
			ProductName:   p.ProductName,
			DisplayName:   p.DisplayName,
			SalePrice:     p.SalePrice,
			CostPrice:     p.CostPrice,
			IsHem:         p.IsHem,
			SortNum:       p.SortNum,
			SKUs:          make([]domain.SKU, 0, len(p.SKUs)),
		}
		for j, s := range p.SKUs {
			skuID := strings.TrimSpace(s.ID)
			if skuID == "" {
				return nil, fmt.Errorf("product %s sku %d: id is required", id, j)
			}
			if owner, dup := seen[skuID]; dup {
				return nil, fmt.Errorf("sku %s listed under both %s and %s", skuID, owner, id)
			}
			seen[skuID] = id
			product.SKUs = append(product.SKUs, domain.SKU{
				ID:          skuID,
				DisplayName: s.DisplayName,
				Size:        s.Size,
				SortNum:     s.SortNum,
			})
		}
		products = append(products, product)
	}
	return products, nil
}
