package bootstrap

import (
	"context"

	"github.com/m3rciful/featurebot/bot/docstore"
)

// Seeder loads reference data into the document store.
type Seeder interface {
	Seed(ctx context.Context, st docstore.Store) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, st docstore.Store) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, st docstore.Store) error {
	return f(ctx, st)
}

// Modules groups optional bootstrapping hooks.
type Modules struct {
	Seeders []Seeder
}
