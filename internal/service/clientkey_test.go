package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pathlane/usage-gate/internal/models"
)

// Shared ordered op log so the tests can assert the relative order of
// repository writes and cache drops.
type opLog struct {
	ops []string
}

func (l *opLog) record(op string) {
	l.ops = append(l.ops, op)
}

func (l *opLog) indexOf(op string) int {
	for i, o := range l.ops {
		if o == op {
			return i
		}
	}
	return -1
}

type fakeKeyStore struct {
	log *opLog
	key *models.ClientKey
}

func (f *fakeKeyStore) Create(ctx context.Context, key *models.ClientKey) error {
	f.log.record("repo:create")
	return nil
}

func (f *fakeKeyStore) FindByHash(ctx context.Context, hash string) (*models.ClientKey, error) {
	f.log.record("repo:find_by_hash")
	return f.key, nil
}

func (f *fakeKeyStore) FindByID(ctx context.Context, id string) (*models.ClientKey, error) {
	f.log.record("repo:find_by_id")
	return f.key, nil
}

func (f *fakeKeyStore) List(ctx context.Context) ([]models.ClientKey, error) {
	return nil, nil
}

func (f *fakeKeyStore) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (f *fakeKeyStore) Deactivate(ctx context.Context, id string) error {
	f.log.record("repo:deactivate")
	f.key.IsActive = false
	return nil
}

func (f *fakeKeyStore) Delete(ctx context.Context, id string) error {
	f.log.record("repo:delete")
	f.key = nil
	return nil
}

type fakeKeyCache struct {
	log     *opLog
	entries map[string]string
}

func (f *fakeKeyCache) Get(ctx context.Context, key string) (string, error) {
	return f.entries[key], nil
}

func (f *fakeKeyCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.log.record("cache:set")
	return nil
}

func (f *fakeKeyCache) Del(ctx context.Context, keys ...string) error {
	f.log.record("cache:del")
	for _, k := range keys {
		delete(f.entries, k)
	}
	return nil
}

func revocationFixture() (*ClientKeyService, *opLog) {
	log := &opLog{}
	store := &fakeKeyStore{
		log: log,
		key: &models.ClientKey{ID: uuid.New(), KeyHash: "abc123", IsActive: true},
	}
	cache := &fakeKeyCache{log: log, entries: make(map[string]string)}
	return NewClientKeyService(store, cache), log
}

// The cache drop has to land after the row update. Dropping first leaves a
// window where a concurrent Validate re-caches the still-active row and the
// revoked key stays usable for the cache TTL.
func TestDeactivateInvalidatesCacheAfterUpdate(t *testing.T) {
	svc, log := revocationFixture()

	if err := svc.Deactivate(context.Background(), "some-id"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	update := log.indexOf("repo:deactivate")
	drop := log.indexOf("cache:del")
	if update == -1 || drop == -1 {
		t.Fatalf("missing ops, got %v", log.ops)
	}
	if drop < update {
		t.Fatalf("cache dropped before row update: %v", log.ops)
	}
}

func TestDeleteInvalidatesCacheAfterDelete(t *testing.T) {
	svc, log := revocationFixture()

	if err := svc.Delete(context.Background(), "some-id"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	del := log.indexOf("repo:delete")
	drop := log.indexOf("cache:del")
	if del == -1 || drop == -1 {
		t.Fatalf("missing ops, got %v", log.ops)
	}
	if drop < del {
		t.Fatalf("cache dropped before row delete: %v", log.ops)
	}
}

func TestDeactivateWithoutCache(t *testing.T) {
	log := &opLog{}
	store := &fakeKeyStore{
		log: log,
		key: &models.ClientKey{ID: uuid.New(), KeyHash: "abc123", IsActive: true},
	}
	svc := NewClientKeyService(store, nil)

	if err := svc.Deactivate(context.Background(), "some-id"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if store.key.IsActive {
		t.Fatal("key still active")
	}
}
