package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/standardbeagle/linedb/internal/errors"
)

func TestLoadOrBuild_PersistRoundTrip(t *testing.T) {
	data := writeData(t, "alpha\nbeta\ngamma\n")
	cache := CachePath(data)

	built, err := LoadOrBuild(data, cache, true, WithValidation(true))
	require.NoError(t, err)
	require.FileExists(t, cache)

	loaded, err := LoadOrBuild(data, cache, true, WithValidation(true))
	require.NoError(t, err)

	if diff := cmp.Diff(built.Offsets(), loaded.Offsets()); diff != "" {
		t.Errorf("cached index differs (-built +loaded):\n%s", diff)
	}
	assert.Equal(t, built.Source(), loaded.Source())
}

func TestLoadOrBuild_NoPersistLeavesNoCache(t *testing.T) {
	data := writeData(t, "alpha\n")
	cache := CachePath(data)

	ix, err := LoadOrBuild(data, cache, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ix.Lines())
	assert.NoFileExists(t, cache)
}

func TestLoadOrBuild_StaleCacheIsRebuilt(t *testing.T) {
	data := writeData(t, "alpha\nbeta\n")
	cache := CachePath(data)

	_, err := LoadOrBuild(data, cache, true, WithValidation(true))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(data, []byte("alpha\nbeta\ngamma\ndelta\n"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(data, later, later))

	ix, err := LoadOrBuild(data, cache, true, WithValidation(true))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), ix.Lines())

	// the rebuilt index replaced the stale sidecar
	reloaded, err := Load(cache)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reloaded.Lines())
}

func TestLoadOrBuild_TrustsCacheWithoutValidation(t *testing.T) {
	data := writeData(t, "alpha\nbeta\n")
	cache := CachePath(data)

	_, err := LoadOrBuild(data, cache, true)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(data, []byte("alpha\nbeta\ngamma\n"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(data, later, later))

	ix, err := LoadOrBuild(data, cache, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ix.Lines(), "cache is used as-is")
}

func TestLoadOrBuild_CorruptCache(t *testing.T) {
	data := writeData(t, "alpha\n")
	cache := CachePath(data)
	require.NoError(t, os.WriteFile(cache, []byte{0xc1, 0xff, 0x00}, 0644))

	_, err := LoadOrBuild(data, cache, true)
	require.Error(t, err)

	var decodeErr *lerrors.DecodeError
	assert.True(t, errors.As(err, &decodeErr), "got %T: %v", err, err)
}

func TestLoadOrBuild_MissingDataFile(t *testing.T) {
	data := filepath.Join(t.TempDir(), "absent.txt")

	_, err := LoadOrBuild(data, CachePath(data), true)
	require.Error(t, err)

	var fileErr *lerrors.FileError
	require.True(t, errors.As(err, &fileErr))
	assert.Equal(t, lerrors.ErrorTypeNotFound, fileErr.Type)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	data := writeData(t, "alpha\n")
	cache := CachePath(data)

	ix, err := Build(data)
	require.NoError(t, err)
	require.NoError(t, Save(cache, ix))

	dirEntries, err := os.ReadDir(filepath.Dir(cache))
	require.NoError(t, err)
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"lines.txt", "lines.txt.index"}, names)
}

func TestVerify(t *testing.T) {
	data := writeData(t, "alpha\nbeta\n")
	ix, err := Build(data)
	require.NoError(t, err)

	ok, err := Verify(data, ix)
	require.NoError(t, err)
	assert.True(t, ok)

	// same size, different bytes
	require.NoError(t, os.WriteFile(data, []byte("alpha\nbeto\n"), 0644))
	ok, err = Verify(data, ix)
	require.NoError(t, err)
	assert.False(t, ok)
}
