package catalog

import (
	"context"
	"sort"
)

// CategoryCount is the number of products in one category.
type CategoryCount struct {
	CategoryID string `json:"categoryId"`
	Name       string `json:"name"`
	Products   int    `json:"products"`
}

// Stats summarizes the catalog for the admin dashboard.
type Stats struct {
	TotalProducts      int             `json:"totalProducts"`
	ActiveProducts     int             `json:"activeProducts"`
	FeaturedProducts   int             `json:"featuredProducts"`
	OutOfStock         int             `json:"outOfStock"`
	LowStock           int             `json:"lowStock"`
	TotalCategories    int             `json:"totalCategories"`
	ActiveCategories   int             `json:"activeCategories"`
	InventoryValue     int64           `json:"inventoryValue"`
	ProductsByCategory []CategoryCount `json:"productsByCategory"`
}

// Analytics computes catalog totals. InventoryValue is the sum of
// price*stock over active products, in minor units. LowStock counts active
// products with 0 < stock <= the low-stock threshold.
func (s *Service) Analytics(ctx context.Context) (*Stats, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{TotalProducts: len(products), TotalCategories: len(categories)}
	perCategory := make(map[string]int, len(categories))
	for _, p := range products {
		perCategory[p.CategoryID]++
		if p.Featured {
			st.FeaturedProducts++
		}
		if !p.IsActive {
			continue
		}
		st.ActiveProducts++
		st.InventoryValue += p.Price * int64(p.Stock)
		switch {
		case p.Stock == 0:
			st.OutOfStock++
		case p.Stock <= s.lowStock:
			st.LowStock++
		}
	}

	st.ProductsByCategory = make([]CategoryCount, 0, len(categories))
	for _, c := range categories {
		if c.IsActive {
			st.ActiveCategories++
		}
		st.ProductsByCategory = append(st.ProductsByCategory, CategoryCount{
			CategoryID: c.ID,
			Name:       c.Name,
			Products:   perCategory[c.ID],
		})
	}
	sort.Slice(st.ProductsByCategory, func(i, j int) bool {
		a, b := st.ProductsByCategory[i], st.ProductsByCategory[j]
		if a.Products != b.Products {
			return a.Products > b.Products
		}
		return a.Name < b.Name
	})
	return st, nil
}
