package index

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/standardbeagle/linedb/internal/debug"
	lerrors "github.com/standardbeagle/linedb/internal/errors"
)

// CacheSuffix is appended to the data file path to name the sidecar cache
const CacheSuffix = ".index"

// cacheVersion is bumped whenever the sidecar layout changes
const cacheVersion = 1

// cacheFile is the on-disk layout of the sidecar
type cacheFile struct {
	Version int               `msgpack:"v"`
	Source  Fingerprint       `msgpack:"source"`
	Offsets map[uint64]uint64 `msgpack:"offsets"`
}

// CachePath derives the sidecar path for a data file
func CachePath(dataPath string) string {
	return dataPath + CacheSuffix
}

// LoadOption configures LoadOrBuild
type LoadOption func(*loadOptions)

type loadOptions struct {
	validate bool
}

// WithValidation makes LoadOrBuild compare the cached fingerprint against the
// data file's size and modification time, rebuilding on mismatch.
// Without it a present cache is trusted unconditionally.
func WithValidation(validate bool) LoadOption {
	return func(o *loadOptions) {
		o.validate = validate
	}
}

// LoadOrBuild returns the index for dataPath.
//
// When persist is true and cachePath exists, the cache is decoded and returned
// without scanning the data file. Otherwise the data file is scanned and, when
// persist is true, the result is written to cachePath before returning.
func LoadOrBuild(dataPath, cachePath string, persist bool, opts ...LoadOption) (*Index, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	if persist {
		ix, err := Load(cachePath)
		switch {
		case err == nil:
			if !o.validate {
				debug.LogIndex("Loaded saved index from %s (%d lines)", cachePath, ix.Lines())
				return ix, nil
			}
			info, statErr := os.Stat(dataPath)
			if statErr != nil {
				return nil, lerrors.NewFileError("stat", dataPath, statErr)
			}
			if ix.Source().SameFile(info) {
				debug.LogIndex("Loaded saved index from %s (%d lines)", cachePath, ix.Lines())
				return ix, nil
			}
			debug.Warn(debug.ComponentIndex, "Saved index %s does not match %s, rebuilding", cachePath, dataPath)
		case errors.Is(err, fs.ErrNotExist):
			// no cache yet
		default:
			return nil, err
		}
	}

	debug.LogIndex("Creating a new index for the database file: %s", dataPath)
	ix, err := Build(dataPath)
	if err != nil {
		return nil, err
	}

	if persist {
		if err := Save(cachePath, ix); err != nil {
			return nil, err
		}
		debug.LogIndex("Saved the index to file: %s", cachePath)
	}
	return ix, nil
}

// Load decodes a sidecar cache
func Load(cachePath string) (*Index, error) {
	file, err := os.Open(cachePath)
	if err != nil {
		return nil, lerrors.NewFileError("open", cachePath, err)
	}
	defer file.Close()

	var cf cacheFile
	if err := msgpack.NewDecoder(bufio.NewReader(file)).Decode(&cf); err != nil {
		return nil, lerrors.NewDecodeError(cachePath, err)
	}
	if cf.Version != cacheVersion {
		return nil, lerrors.NewDecodeError(cachePath, fmt.Errorf("unsupported cache version %d", cf.Version))
	}
	if off, ok := cf.Offsets[1]; !ok || off != 0 {
		return nil, lerrors.NewDecodeError(cachePath, errors.New("line 1 must start at offset 0"))
	}
	return New(cf.Offsets, cf.Source), nil
}

// Save writes the index to cachePath.
// The file is written to a temporary sibling first and renamed into place.
func Save(cachePath string, ix *Index) error {
	tmp, err := os.CreateTemp(filepath.Dir(cachePath), filepath.Base(cachePath)+".tmp-*")
	if err != nil {
		return lerrors.NewFileError("create", cachePath, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	w := bufio.NewWriter(tmp)
	cf := cacheFile{
		Version: cacheVersion,
		Source:  ix.source,
		Offsets: ix.offsets,
	}
	if err := msgpack.NewEncoder(w).Encode(&cf); err != nil {
		cleanup()
		return lerrors.NewFileError("encode", cachePath, err)
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return lerrors.NewFileError("write", cachePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return lerrors.NewFileError("close", cachePath, err)
	}
	if err := os.Rename(tmpName, cachePath); err != nil {
		os.Remove(tmpName)
		return lerrors.NewFileError("rename", cachePath, err)
	}
	return nil
}

// Verify rescans the data file and reports whether its contents still hash to
// the value recorded in ix.
func Verify(dataPath string, ix *Index) (bool, error) {
	fresh, err := Build(dataPath)
	if err != nil {
		return false, err
	}
	return fresh.source.Hash == ix.source.Hash && fresh.Len() == ix.Len(), nil
}

func logBuilt(path string, ix *Index, took time.Duration) {
	debug.Printf(debug.ComponentIndex, "Indexed %s: %d lines, %d bytes in %v", path, ix.Lines(), ix.source.Size, took)
}
