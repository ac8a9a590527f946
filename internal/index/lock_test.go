package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

func TestWriterLock_Exclusive(t *testing.T) {
	dir := t.TempDir()
	first := NewWriterLock(dir)
	second := NewWriterLock(dir)

	require.NoError(t, first.TryLock())
	assert.True(t, first.IsLocked())

	// When: a second writer tries the same store
	err := second.TryLock()

	// Then: it is refused with ERR_220
	require.Error(t, err)
	assert.ErrorIs(t, err, nexuserrors.ErrIndexLocked)
	assert.False(t, second.IsLocked())

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestWriterLock_Reentrant(t *testing.T) {
	l := NewWriterLock(t.TempDir())

	require.NoError(t, l.TryLock())
	require.NoError(t, l.TryLock())
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())
}

func TestWriterLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	l := NewWriterLock(dir)

	require.NoError(t, l.TryLock())
	defer l.Unlock()

	assert.Equal(t, filepath.Join(dir, LockFileName), l.Path())
	assert.FileExists(t, l.Path())
}
