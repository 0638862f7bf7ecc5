package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var errNotFound = fmt.Errorf("fake store: %w", errs.ErrNotFound)

type fakeStore struct {
	mu       sync.Mutex
	orgs     map[int64]*model.Organization
	branches map[int64]*model.Branch
	reads    int
	notified [][]byte

	branchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{orgs: map[int64]*model.Organization{}, branches: map[int64]*model.Branch{}}
}

func (f *fakeStore) GetOrganization(_ context.Context, id int64) (*model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	org, ok := f.orgs[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *org
	cp.Settings = cloneOrganizationSettings(&org.Settings)
	return &cp, nil
}

func (f *fakeStore) GetBranch(_ context.Context, id int64) (*model.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.branchErr != nil {
		return nil, f.branchErr
	}
	b, ok := f.branches[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) UpdateOrganizationSettings(_ context.Context, orgID int64, s model.OrganizationSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return errNotFound
	}
	org.Settings = s
	return nil
}

func (f *fakeStore) UpdateBranchSettings(_ context.Context, branchID int64, kind model.ProviderKind, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.branches[branchID]
	if !ok {
		return errNotFound
	}
	if b.ProviderSettings == nil {
		b.ProviderSettings = map[model.ProviderKind]json.RawMessage{}
	}
	b.ProviderSettings[kind] = raw
	return nil
}

func (f *fakeStore) NotifySettingsChanged(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, payload)
	return nil
}

func newTestCodec(t *testing.T) *Codec {
	c, err := crypto.NewCipher(testKey)
	require.NoError(t, err)
	return NewCodec(c, zerolog.Nop())
}

func mustEncrypt(t *testing.T, codec *Codec, plain string) string {
	token, err := codec.cipher.Encrypt(plain)
	require.NoError(t, err)
	return token
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func int64p(v int64) *int64 { return &v }
