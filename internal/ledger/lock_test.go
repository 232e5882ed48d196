package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_WritesHolderIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	lk, err := acquireLock(path)
	require.NoError(t, err)
	defer lk.release()

	info, err := readLockInfo(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.AcquiredAt)
}

func TestAcquireLock_HeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	lk, err := acquireLock(path)
	require.NoError(t, err)
	defer lk.release()

	// The current process is alive, so a second acquire must fail fast.
	_, err = acquireLock(path)
	require.ErrorIs(t, err, ErrRunBusy)
}

func TestAcquireLock_ReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	// Plant a lock from a pid that cannot exist.
	stale := lockInfo{PID: 1 << 30, Hostname: "gone", AcquiredAt: utcNow()}
	data, err := json.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	lk, err := acquireLock(path)
	require.NoError(t, err, "lock from a dead process should be reclaimed")
	defer lk.release()

	info, err := readLockInfo(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestAcquireLock_CorruptLockIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := acquireLock(path)
	require.ErrorIs(t, err, ErrRunBusy)
}

func TestRelease_RemovesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	lk, err := acquireLock(path)
	require.NoError(t, err)
	lk.release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
	assert.False(t, processAlive(1<<30))
}
