package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orneryd/storefront/pkg/catalog"
)

// notFound names the missing record kind in a catalog.ErrNotFound.
func notFound(err error, kind string) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%s %w", kind, catalog.ErrNotFound)
	}
	return err
}

func (s *Server) productFilter(r *http.Request) (catalog.ProductFilter, error) {
	q := r.URL.Query()
	f := catalog.ProductFilter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Page:     parseIntQuery(r, "page", 1),
		Limit:    parseIntQuery(r, "limit", catalog.DefaultPageLimit),
	}
	var err error
	if f.MinPrice, err = parsePriceQuery(r, "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = parsePriceQuery(r, "maxPrice"); err != nil {
		return f, err
	}
	if f.Active, err = parseBoolQuery(r, "active"); err != nil {
		return f, err
	}
	if f.Featured, err = parseBoolQuery(r, "featured"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	f, err := s.productFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if activeOnly {
		active := true
		f.Active = &active
	}
	page, err := s.deps.Catalog.ListProducts(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, page)
}

func (s *Server) handlePublicProducts(w http.ResponseWriter, r *http.Request) {
	s.listProducts(w, r, true)
}

func (s *Server) handlePublicProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"), true)
	if err != nil {
		s.writeServiceError(w, r, notFound(err, "product"))
		return
	}
	s.writeData(w, http.StatusOK, p)
}

func (s *Server) handlePublicCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Catalog.ListCategories(r.Context(), true)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, cats)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	s.listProducts(w, r, false)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, notFound(err, "product"))
		return
	}
	s.writeData(w, http.StatusOK, p)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := s.readJSON(r, &in); err != nil {
		s.writeBadBody(w, err)
		return
	}
	p, err := s.deps.Catalog.CreateProduct(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var patch catalog.ProductPatch
	if err := s.readJSON(r, &patch); err != nil {
		s.writeBadBody(w, err)
		return
	}
	p, err := s.deps.Catalog.UpdateProduct(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeServiceError(w, r, notFound(err, "product"))
		return
	}
	s.writeData(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, notFound(err, "product"))
		return
	}
	s.writeMessage(w, http.StatusOK, "Product deleted")
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseBoolQuery(r, "active")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	cats, err := s.deps.Catalog.ListCategories(r.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, cats)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Catalog.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, notFound(err, "category"))
		return
	}
	s.writeData(w, http.StatusOK, c)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in catalog.CategoryInput
	if err := s.readJSON(r, &in); err != nil {
		s.writeBadBody(w, err)
		return
	}
	c, err := s.deps.Catalog.CreateCategory(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var patch catalog.CategoryPatch
	if err := s.readJSON(r, &patch); err != nil {
		s.writeBadBody(w, err)
		return
	}
	c, err := s.deps.Catalog.UpdateCategory(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeServiceError(w, r, notFound(err, "category"))
		return
	}
	s.writeData(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, notFound(err, "category"))
		return
	}
	s.writeMessage(w, http.StatusOK, "Category deleted")
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Catalog.Analytics(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, stats)
}
