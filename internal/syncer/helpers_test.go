package syncer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	syncerrors "github.com/marksync/marksync/internal/errors"
	"github.com/marksync/marksync/internal/localstore"
	"github.com/marksync/marksync/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStores creates a real metadata store and local store under a
// temporary directory.
func testStores(t *testing.T) (*state.Store, *localstore.Store) {
	t.Helper()

	dir := t.TempDir()

	meta, err := state.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	t.Cleanup(func() { meta.Close() })

	local, err := localstore.New(filepath.Join(dir, "data"), meta)
	require.NoError(t, err)

	return meta, local
}

// fakeRemote is an in-memory RemoteStore. Each write advances the
// resource's modification time by one millisecond unless a time is
// forced, so ordering is deterministic without sleeping.
type fakeRemote struct {
	mu     sync.Mutex
	files  map[string][]byte
	mtimes map[string]int64
	clock  int64
	writes int
}

func newFakeRemote(startClock int64) *fakeRemote {
	return &fakeRemote{
		files:  make(map[string][]byte),
		mtimes: make(map[string]int64),
		clock:  startClock,
	}
}

func (f *fakeRemote) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.files[name]

	return ok, nil
}

func (f *fakeRemote) LastModified(_ context.Context, name string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ts, ok := f.mtimes[name]

	return ts, ok, nil
}

func (f *fakeRemote) ReadFile(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[name]
	if !ok {
		return nil, syncerrors.ErrNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

func (f *fakeRemote) WriteFile(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.clock++
	f.writes++

	stored := make([]byte, len(data))
	copy(stored, data)

	f.files[name] = stored
	f.mtimes[name] = f.clock

	return nil
}

func (f *fakeRemote) EnsureDirectory(context.Context) error {
	return nil
}

// put installs a resource with an explicit modification time, bypassing
// the clock.
func (f *fakeRemote) put(name string, data []byte, mtime int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[name] = data
	f.mtimes[name] = mtime
}

func (f *fakeRemote) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writes
}

func (f *fakeRemote) raw(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.files[name]
}
