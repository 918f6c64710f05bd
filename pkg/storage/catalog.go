package storage

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/storefront/pkg/catalog"
)

// docKind names the key prefixes of one slugged document collection.
type docKind struct {
	prefix     byte
	slugPrefix byte
}

var (
	categoryKind = docKind{prefix: prefixCategory, slugPrefix: prefixCategorySlug}
	productKind  = docKind{prefix: prefixProduct, slugPrefix: prefixProductSlug}
)

func mapNotFound(err error) error {
	if errors.Is(err, errNotFound) {
		return catalog.ErrNotFound
	}
	return err
}

// putDoc writes a document and its slug index entry. oldSlug is the slug
// currently stored ("" on create); its index entry is removed when it
// changes. A slug owned by another document is a catalog.ErrConflict.
func putDoc(txn *badger.Txn, kind docKind, id, slug, oldSlug string, doc any) error {
	if slug != oldSlug {
		owner, err := getString(txn, key(kind.slugPrefix, slug))
		switch {
		case err == nil && owner != id:
			return catalog.ErrConflict
		case err != nil && !errors.Is(err, errNotFound):
			return err
		}
		if oldSlug != "" {
			if err := txn.Delete(key(kind.slugPrefix, oldSlug)); err != nil {
				return err
			}
		}
		if err := txn.Set(key(kind.slugPrefix, slug), []byte(id)); err != nil {
			return err
		}
	}
	return setJSON(txn, key(kind.prefix, id), doc)
}

func docBySlug[T any](b *BadgerEngine, kind docKind, slug string) (*T, error) {
	out := new(T)
	err := b.view(func(txn *badger.Txn) error {
		id, err := getString(txn, key(kind.slugPrefix, slug))
		if err != nil {
			return err
		}
		return getJSON(txn, key(kind.prefix, id), out)
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func docByID[T any](b *BadgerEngine, kind docKind, id string) (*T, error) {
	out := new(T)
	if err := b.view(func(txn *badger.Txn) error {
		return getJSON(txn, key(kind.prefix, id), out)
	}); err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func listDocs[T any](b *BadgerEngine, kind docKind) ([]*T, error) {
	out := []*T{}
	err := b.view(func(txn *badger.Txn) error {
		return scanJSON(txn, []byte{kind.prefix}, func(v *T) error {
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

// deleteDoc removes a document and the slug index entry it owns.
func deleteDoc[T any](b *BadgerEngine, kind docKind, id string, slugOf func(*T) string) error {
	return mapNotFound(b.update(func(txn *badger.Txn) error {
		doc := new(T)
		if err := getJSON(txn, key(kind.prefix, id), doc); err != nil {
			return err
		}
		if err := txn.Delete(key(kind.slugPrefix, slugOf(doc))); err != nil {
			return err
		}
		return txn.Delete(key(kind.prefix, id))
	}))
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// CreateCategory implements catalog.Store.
func (b *BadgerEngine) CreateCategory(_ context.Context, c *catalog.Category) error {
	if c == nil || c.ID == "" {
		return ErrInvalidID
	}
	return b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(prefixCategory, c.ID)); err == nil {
			return catalog.ErrConflict
		}
		return putDoc(txn, categoryKind, c.ID, c.Slug, "", c)
	})
}

// GetCategory implements catalog.Store.
func (b *BadgerEngine) GetCategory(_ context.Context, id string) (*catalog.Category, error) {
	return docByID[catalog.Category](b, categoryKind, id)
}

// GetCategoryBySlug implements catalog.Store.
func (b *BadgerEngine) GetCategoryBySlug(_ context.Context, slug string) (*catalog.Category, error) {
	return docBySlug[catalog.Category](b, categoryKind, slug)
}

// ListCategories implements catalog.Store.
func (b *BadgerEngine) ListCategories(_ context.Context) ([]*catalog.Category, error) {
	return listDocs[catalog.Category](b, categoryKind)
}

// UpdateCategory implements catalog.Store.
func (b *BadgerEngine) UpdateCategory(_ context.Context, c *catalog.Category) error {
	return mapNotFound(b.update(func(txn *badger.Txn) error {
		var cur catalog.Category
		if err := getJSON(txn, key(prefixCategory, c.ID), &cur); err != nil {
			return err
		}
		return putDoc(txn, categoryKind, c.ID, c.Slug, cur.Slug, c)
	}))
}

// DeleteCategory implements catalog.Store.
func (b *BadgerEngine) DeleteCategory(_ context.Context, id string) error {
	return deleteDoc(b, categoryKind, id, func(c *catalog.Category) string { return c.Slug })
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// CreateProduct implements catalog.Store.
func (b *BadgerEngine) CreateProduct(_ context.Context, p *catalog.Product) error {
	if p == nil || p.ID == "" {
		return ErrInvalidID
	}
	return b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(prefixProduct, p.ID)); err == nil {
			return catalog.ErrConflict
		}
		return putDoc(txn, productKind, p.ID, p.Slug, "", p)
	})
}

// GetProduct implements catalog.Store.
func (b *BadgerEngine) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	return docByID[catalog.Product](b, productKind, id)
}

// GetProductBySlug implements catalog.Store.
func (b *BadgerEngine) GetProductBySlug(_ context.Context, slug string) (*catalog.Product, error) {
	return docBySlug[catalog.Product](b, productKind, slug)
}

// ListProducts implements catalog.Store.
func (b *BadgerEngine) ListProducts(_ context.Context) ([]*catalog.Product, error) {
	return listDocs[catalog.Product](b, productKind)
}

// UpdateProduct implements catalog.Store.
func (b *BadgerEngine) UpdateProduct(_ context.Context, p *catalog.Product) error {
	return mapNotFound(b.update(func(txn *badger.Txn) error {
		var cur catalog.Product
		if err := getJSON(txn, key(prefixProduct, p.ID), &cur); err != nil {
			return err
		}
		return putDoc(txn, productKind, p.ID, p.Slug, cur.Slug, p)
	}))
}

// DeleteProduct implements catalog.Store.
func (b *BadgerEngine) DeleteProduct(_ context.Context, id string) error {
	return deleteDoc(b, productKind, id, func(p *catalog.Product) string { return p.Slug })
}

var _ catalog.Store = (*BadgerEngine)(nil)
