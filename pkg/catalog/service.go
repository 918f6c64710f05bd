package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/storefront/pkg/cache"
)

const (
	maxNameLength = 200

	DefaultPageLimit = 20
	MaxPageLimit     = 100

	// DefaultLowStockThreshold is the stock level at or below which an
	// active product counts as low stock in analytics.
	DefaultLowStockThreshold = 5
)

// CategoryInput creates a category. IsActive defaults to true.
type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive"`
}

// CategoryPatch updates the non-nil fields of a category.
type CategoryPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// ProductInput creates a product. IsActive defaults to true.
type ProductInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       int64    `json:"price"`
	CategoryID  string   `json:"categoryId"`
	Stock       int      `json:"stock"`
	Images      []string `json:"images"`
	IsActive    *bool    `json:"isActive"`
	Featured    bool     `json:"featured"`
}

// ProductPatch updates the non-nil fields of a product.
type ProductPatch struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Price       *int64    `json:"price"`
	CategoryID  *string   `json:"categoryId"`
	Stock       *int      `json:"stock"`
	Images      *[]string `json:"images"`
	IsActive    *bool     `json:"isActive"`
	Featured    *bool     `json:"featured"`
}

// ProductFilter selects products for ListProducts. Category accepts a
// category ID or slug. Query matches name and description, case-insensitive.
type ProductFilter struct {
	Category string
	Query    string
	MinPrice *int64
	MaxPrice *int64
	Active   *bool
	Featured *bool
	Page     int
	Limit    int
}

// ProductPage is one page of ListProducts results.
type ProductPage struct {
	Items []*Product `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Pages int        `json:"pages"`
}

// Service validates and applies catalog changes.
type Service struct {
	store    Store
	log      *slog.Logger
	now      func() time.Time
	lowStock int
	reads    *cache.ReadCache
}

// NewService creates a catalog service over store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		log:      logger.With(slog.String("component", "catalog")),
		now:      time.Now,
		lowStock: DefaultLowStockThreshold,
	}
}

// SetLowStockThreshold changes the analytics low-stock level.
func (s *Service) SetLowStockThreshold(n int) {
	if n >= 0 {
		s.lowStock = n
	}
}

// SetCache caches list and slug lookups in c. Every write clears it.
func (s *Service) SetCache(c *cache.ReadCache) {
	s.reads = c
}

// CacheStats reports read cache counters. Zero without a cache.
func (s *Service) CacheStats() cache.Stats {
	return s.reads.Stats()
}

func (s *Service) invalidate() {
	s.reads.Clear()
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func optBool(v *bool) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatBool(*v)
}

func (f ProductFilter) cacheKey() uint64 {
	return cache.Key("products", f.Category, f.Query, optInt(f.MinPrice), optInt(f.MaxPrice),
		optBool(f.Active), optBool(f.Featured), strconv.Itoa(f.Page), strconv.Itoa(f.Limit))
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
	}
	return name, nil
}

func (s *Service) categorySlug(ctx context.Context, name, selfID string) (string, error) {
	return uniqueSlug(ctx, Slugify(name), selfID, func(ctx context.Context, slug string) (string, error) {
		c, err := s.store.GetCategoryBySlug(ctx, slug)
		if err != nil {
			return "", err
		}
		return c.ID, nil
	})
}

func (s *Service) productSlug(ctx context.Context, name, selfID string) (string, error) {
	return uniqueSlug(ctx, Slugify(name), selfID, func(ctx context.Context, slug string) (string, error) {
		p, err := s.store.GetProductBySlug(ctx, slug)
		if err != nil {
			return "", err
		}
		return p.ID, nil
	})
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// CreateCategory validates in, derives a unique slug and stores the category.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	slug, err := s.categorySlug(ctx, name, "")
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &Category{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("creating category %q: %w", name, err)
	}
	s.invalidate()
	s.log.Info("category created", slog.String("id", c.ID), slog.String("slug", c.Slug))
	return c, nil
}

// GetCategory returns a category by ID.
func (s *Service) GetCategory(ctx context.Context, id string) (*Category, error) {
	return s.store.GetCategory(ctx, id)
}

// ListCategories returns categories sorted by name. activeOnly hides
// inactive ones.
func (s *Service) ListCategories(ctx context.Context, activeOnly bool) ([]*Category, error) {
	key := cache.Key("categories", strconv.FormatBool(activeOnly))
	if v, ok := s.reads.Get(key); ok {
		return v.([]*Category), nil
	}
	gen := s.reads.Generation()
	all, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Category, 0, len(all))
	for _, c := range all {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	s.reads.Put(key, out, gen)
	return out, nil
}

// UpdateCategory applies patch. Renaming regenerates the slug.
func (s *Service) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (*Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name, err := validName(*patch.Name)
		if err != nil {
			return nil, err
		}
		if name != c.Name {
			if c.Slug, err = s.categorySlug(ctx, name, c.ID); err != nil {
				return nil, err
			}
			c.Name = name
		}
	}
	if patch.Description != nil {
		c.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.IsActive != nil {
		c.IsActive = *patch.IsActive
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("updating category %s: %w", id, err)
	}
	s.invalidate()
	return c, nil
}

// DeleteCategory removes a category that no product references.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.store.GetCategory(ctx, id); err != nil {
		return err
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		if p.CategoryID == id {
			return fmt.Errorf("%w: category still has products", ErrConflict)
		}
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("deleting category %s: %w", id, err)
	}
	s.invalidate()
	s.log.Info("category deleted", slog.String("id", id))
	return nil
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func (s *Service) checkCategory(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: categoryId is required", ErrInvalid)
	}
	if _, err := s.store.GetCategory(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown category %s", ErrInvalid, id)
		}
		return err
	}
	return nil
}

func validProductNumbers(price int64, stock int) error {
	if price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalid)
	}
	if stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalid)
	}
	return nil
}

func cleanImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	return out
}

// CreateProduct validates in, derives a unique slug and stores the product.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validProductNumbers(in.Price, in.Stock); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}
	slug, err := s.productSlug(ctx, name, "")
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Product{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		CategoryID:  in.CategoryID,
		Stock:       in.Stock,
		Images:      cleanImages(in.Images),
		IsActive:    in.IsActive == nil || *in.IsActive,
		Featured:    in.Featured,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("creating product %q: %w", name, err)
	}
	s.invalidate()
	s.log.Info("product created", slog.String("id", p.ID), slog.String("slug", p.Slug))
	return p, nil
}

// GetProduct returns a product by ID.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	return s.store.GetProduct(ctx, id)
}

// GetProductBySlug returns a product by slug. With activeOnly an inactive
// product is reported as ErrNotFound.
func (s *Service) GetProductBySlug(ctx context.Context, slug string, activeOnly bool) (*Product, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	key := cache.Key("product", slug)
	p, ok := s.reads.Get(key)
	if !ok {
		gen := s.reads.Generation()
		found, err := s.store.GetProductBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		s.reads.Put(key, found, gen)
		p = found
	}
	prod := p.(*Product)
	if activeOnly && !prod.IsActive {
		return nil, ErrNotFound
	}
	return prod, nil
}

// UpdateProduct applies patch. Renaming regenerates the slug.
func (s *Service) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name, err := validName(*patch.Name)
		if err != nil {
			return nil, err
		}
		if name != p.Name {
			if p.Slug, err = s.productSlug(ctx, name, p.ID); err != nil {
				return nil, err
			}
			p.Name = name
		}
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if err := validProductNumbers(p.Price, p.Stock); err != nil {
		return nil, err
	}
	if patch.CategoryID != nil && *patch.CategoryID != p.CategoryID {
		if err := s.checkCategory(ctx, *patch.CategoryID); err != nil {
			return nil, err
		}
		p.CategoryID = *patch.CategoryID
	}
	if patch.Images != nil {
		p.Images = cleanImages(*patch.Images)
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	if patch.Featured != nil {
		p.Featured = *patch.Featured
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("updating product %s: %w", id, err)
	}
	s.invalidate()
	return p, nil
}

// DeleteProduct removes a product.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	s.log.Info("product deleted", slog.String("id", id))
	return nil
}

// ListProducts filters, sorts (newest first) and paginates products.
func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, fmt.Errorf("%w: minPrice exceeds maxPrice", ErrInvalid)
	}
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	f.Page, f.Limit = page, limit
	key := f.cacheKey()
	if v, ok := s.reads.Get(key); ok {
		return v.(*ProductPage), nil
	}
	gen := s.reads.Generation()

	categoryID, err := s.resolveCategory(ctx, f.Category)
	if err != nil {
		return nil, err
	}
	if f.Category != "" && categoryID == "" {
		return &ProductPage{Items: []*Product{}, Page: page, Limit: limit}, nil
	}

	all, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	matched := make([]*Product, 0, len(all))
	for _, p := range all {
		switch {
		case categoryID != "" && p.CategoryID != categoryID:
		case f.Active != nil && p.IsActive != *f.Active:
		case f.Featured != nil && p.Featured != *f.Featured:
		case f.MinPrice != nil && p.Price < *f.MinPrice:
		case f.MaxPrice != nil && p.Price > *f.MaxPrice:
		case q != "" && !strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.Description), q):
		default:
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	result := &ProductPage{
		Total: len(matched),
		Page:  page,
		Limit: limit,
		Pages: (len(matched) + limit - 1) / limit,
	}
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	result.Items = matched[start:end]
	s.reads.Put(key, result, gen)
	return result, nil
}

// resolveCategory maps an ID or slug to a category ID. An unknown value
// resolves to "".
func (s *Service) resolveCategory(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if c, err := s.store.GetCategory(ctx, ref); err == nil {
		return c.ID, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	c, err := s.store.GetCategoryBySlug(ctx, strings.ToLower(ref))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.ID, nil
}
