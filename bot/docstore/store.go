// Package docstore persists whole JSON documents by name.
//
// Every backend stores the same bytes: the JSON encoding of the value passed
// to Save. Documents are small (features, settings, users) and are always
// read and written whole, so last write wins.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotExist is returned by Load when no document with the given name was saved yet.
var ErrNotExist = errors.New("docstore: document does not exist")

// Store loads and saves named JSON documents.
type Store interface {
	Load(ctx context.Context, name string, dst any) error
	Save(ctx context.Context, name string, src any) error
	Close() error
}

// rawStore is implemented by each backend; Store adds JSON on top.
type rawStore interface {
	get(ctx context.Context, name string) ([]byte, error)
	put(ctx context.Context, name string, body []byte) error
	close() error
	backend() string
}

type jsonStore struct {
	raw rawStore
}

func wrap(raw rawStore) *jsonStore {
	return &jsonStore{raw: raw}
}

// Load decodes the document into dst or returns ErrNotExist.
func (s *jsonStore) Load(ctx context.Context, name string, dst any) error {
	body, err := s.raw.get(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("docstore: decode %s (%s): %w", name, s.raw.backend(), err)
	}
	return nil
}

// Save encodes src and replaces the stored document.
func (s *jsonStore) Save(ctx context.Context, name string, src any) error {
	body, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", name, err)
	}
	return s.raw.put(ctx, name, body)
}

// Close releases backend resources.
func (s *jsonStore) Close() error {
	return s.raw.close()
}

// Backend names the storage backend, for logs.
func (s *jsonStore) Backend() string {
	return s.raw.backend()
}

// LoadOrInit loads name into dst and leaves dst untouched when the document does not exist yet.
func LoadOrInit(ctx context.Context, s Store, name string, dst any) error {
	err := s.Load(ctx, name, dst)
	if errors.Is(err, ErrNotExist) {
		return nil
	}
	return err
}
