package storage

import (
	"context"
	"errors"
	"fmt"
)

// Multi writes to several stores and reads from the first one.
type Multi struct {
	primary Store
	sinks   []Store
}

// NewMulti combines primary with additional write-only sinks.
func NewMulti(primary Store, sinks ...Store) *Multi {
	return &Multi{primary: primary, sinks: sinks}
}

// Save writes r to every store. A failing sink does not stop the others;
// all errors are returned joined.
func (m *Multi) Save(ctx context.Context, r Record) error {
	var errs []error
	if err := m.primary.Save(ctx, r); err != nil {
		errs = append(errs, err)
	}
	for i, s := range m.sinks {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Get(ctx context.Context, id string) (*Record, error) {
	return m.primary.Get(ctx, id)
}

func (m *Multi) List(ctx context.Context, p QueryParams) ([]Record, error) {
	return m.primary.List(ctx, p)
}

func (m *Multi) Stats(ctx context.Context) (*Stats, error) {
	return m.primary.Stats(ctx)
}

// Close closes every store.
func (m *Multi) Close() error {
	errs := []error{m.primary.Close()}
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
