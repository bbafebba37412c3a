package container

import "context"

// Repository is the persistence boundary for containers. Implementations
// live under internal/store.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Container, error)
	FindActiveByOwner(ctx context.Context, owner Owner) ([]*Container, error)
	FindActiveByOwnerAndType(ctx context.Context, owner Owner, typ Type) ([]*Container, error)
	FindAssetByName(ctx context.Context, owner Owner, name string) (*Container, error)
	Save(ctx context.Context, c *Container) error
}

// Resolver resolves a named container type to exactly one active instance
// for an owner, and finds-or-creates asset holdings.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver backed by the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveType returns the single active container of the given type for the
// owner. Zero or multiple matches yield a ResolutionError.
func (r *Resolver) ResolveType(ctx context.Context, owner Owner, typ Type) (*Container, error) {
	matches, err := r.repo.FindActiveByOwnerAndType(ctx, owner, typ)
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, &ResolutionError{Owner: owner, Type: typ, Matches: len(matches)}
	}
	return matches[0], nil
}

// ResolveAsset returns the asset holding with the given name, creating it
// on first use. At most one ASSET container exists per (owner, name).
func (r *Resolver) ResolveAsset(ctx context.Context, owner Owner, name, unit string) (*Container, error) {
	existing, err := r.repo.FindAssetByName(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	created := New(owner, name, TypeAsset, unit)
	if err := r.repo.Save(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}
