package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved   []Record
	saveErr error
	closed  bool
}

func (f *fakeStore) Save(_ context.Context, r Record) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*Record, error) {
	for _, r := range f.saved {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) List(context.Context, QueryParams) ([]Record, error) { return f.saved, nil }

func (f *fakeStore) Stats(context.Context) (*Stats, error) {
	s := newStats()
	s.Total = int64(len(f.saved))
	return s, nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func TestMulti_SaveFansOut(t *testing.T) {
	primary, sink := &fakeStore{}, &fakeStore{}
	m := NewMulti(primary, sink)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, Record{ID: "r1"}))
	assert.Len(t, primary.saved, 1)
	assert.Len(t, sink.saved, 1)

	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)

	require.NoError(t, m.Close())
	assert.True(t, primary.closed)
	assert.True(t, sink.closed)
}

func TestMulti_SinkErrorDoesNotStopOthers(t *testing.T) {
	primary := &fakeStore{}
	broken := &fakeStore{saveErr: errors.New("connection refused")}
	last := &fakeStore{}
	m := NewMulti(primary, broken, last)

	err := m.Save(context.Background(), Record{ID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink 0: connection refused")
	assert.Len(t, primary.saved, 1)
	assert.Len(t, last.saved, 1)
}
