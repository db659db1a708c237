// Package resolver implements the resolve-or-create step used for both spec
// and collection identifiers. It is parameterized over two capability
// functions so the pipeline can be unit-tested without a network.
package resolver

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no remote resource matches and no creator was
// supplied.
var ErrNotFound = errors.New("remote resource not found")

// FindFunc looks up an existing resource and reports its identifier.
// Name-based lookups return the first match in list order; the vendor does
// not enforce name uniqueness, so duplicates resolve silently to whichever
// the listing yields first.
type FindFunc func(ctx context.Context) (id string, found bool, err error)

// CreateFunc creates the resource and returns its identifier.
type CreateFunc func(ctx context.Context) (id string, err error)

// Resolve returns an identifier for the resource. A non-empty cached id wins
// without any remote call. Otherwise find runs; a find error counts as "not
// found" so creation can still proceed. With no match and a nil create,
// ErrNotFound is returned.
func Resolve(ctx context.Context, cached string, find FindFunc, create CreateFunc) (id string, created bool, err error) {
	if cached != "" {
		return cached, false, nil
	}

	if find != nil {
		id, found, err := find(ctx)
		if err == nil && found {
			return id, false, nil
		}
	}

	if create == nil {
		return "", false, ErrNotFound
	}

	id, err = create(ctx)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
