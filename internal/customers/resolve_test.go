package customers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/billbook/billbook/internal/shared"
)

type memoryStore struct {
	byID    map[string]Customer
	created []Customer
	failGet error
}

func newMemoryStore(existing ...Customer) *memoryStore {
	s := &memoryStore{byID: map[string]Customer{}}
	for _, c := range existing {
		s.byID[c.ID] = c
	}
	return s
}

func (s *memoryStore) Get(ctx context.Context, id string) (Customer, error) {
	if s.failGet != nil {
		return Customer{}, s.failGet
	}
	if c, ok := s.byID[id]; ok {
		return c, nil
	}
	return Customer{}, ErrNotFound
}

func (s *memoryStore) GetByPhone(ctx context.Context, phone string) (Customer, error) {
	for _, c := range s.byID {
		if c.Phone == phone {
			return c, nil
		}
	}
	return Customer{}, ErrNotFound
}

func (s *memoryStore) Create(ctx context.Context, c Customer) error {
	s.byID[c.ID] = c
	s.created = append(s.created, c)
	return nil
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

func TestResolveByID(t *testing.T) {
	store := newMemoryStore(Customer{ID: "c1", Name: "Asha", Phone: "999"})
	c, created, err := Resolve(context.Background(), store, ResolveInput{ID: "c1", Phone: "111", Name: "Other"}, NewFactory(fixedNow))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "Asha", c.Name)
}

func TestResolveFallsBackToPhoneWhenIDUnknown(t *testing.T) {
	store := newMemoryStore(Customer{ID: "c1", Name: "Asha", Phone: "999"})
	c, created, err := Resolve(context.Background(), store, ResolveInput{ID: "ghost", Phone: "999", Name: "Asha B"}, NewFactory(fixedNow))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "c1", c.ID)
}

func TestResolveCreatesWhenNothingMatches(t *testing.T) {
	store := newMemoryStore()
	c, created, err := Resolve(context.Background(), store, ResolveInput{Phone: " 555 ", Name: " Ravi ", Email: "r@example.com", Address: "MG Road"}, NewFactory(fixedNow))
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, c.ID)
	require.Equal(t, "Ravi", c.Name)
	require.Equal(t, "555", c.Phone)
	require.Equal(t, fixedNow(), c.CreatedAt)
	require.Len(t, store.created, 1)
}

func TestResolveRequiresNameToCreate(t *testing.T) {
	store := newMemoryStore()
	_, _, err := Resolve(context.Background(), store, ResolveInput{Phone: "555"}, nil)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	require.Empty(t, store.created)
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.failGet = errors.New("connection reset")
	_, _, err := Resolve(context.Background(), store, ResolveInput{ID: "c1", Name: "x"}, nil)
	require.EqualError(t, err, "connection reset")
	require.Empty(t, store.created)
}
