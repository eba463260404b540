// Package index maps the line numbers of an immutable text file to the byte
// offsets where those lines start.
//
// The index is built with a single forward scan and is never mutated once
// returned, so one *Index can be shared by any number of goroutines without
// locking.
//
// Offsets follow the scan exactly: line 1 is always at offset 0 and every
// newline-terminated chunk read adds an entry for the line after it. A file
// with N lines therefore produces N+1 entries, the last one pointing at end of
// file. Looking that entry up yields empty content rather than an error.
package index

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	lerrors "github.com/standardbeagle/linedb/internal/errors"
)

// Delimiter terminates every line in the data file
const Delimiter = '\n'

const scanBufferSize = 64 * 1024

// Fingerprint identifies the exact data file contents an index was built from
type Fingerprint struct {
	Size    int64  `msgpack:"size"`
	ModTime int64  `msgpack:"mtime"` // unix nanoseconds
	Hash    uint64 `msgpack:"xxh64"` // xxhash64 of the full contents
}

// SameFile reports whether size and modification time match.
// The content hash is not compared; see Verify for that.
func (f Fingerprint) SameFile(info os.FileInfo) bool {
	return f.Size == info.Size() && f.ModTime == info.ModTime().UnixNano()
}

// Index is an immutable line number to byte offset mapping
type Index struct {
	offsets map[uint64]uint64
	source  Fingerprint
}

// New wraps an existing offset map. The map must not be modified afterwards.
func New(offsets map[uint64]uint64, source Fingerprint) *Index {
	return &Index{offsets: offsets, source: source}
}

// Offset returns the byte offset where line starts
func (ix *Index) Offset(line uint64) (uint64, bool) {
	off, ok := ix.offsets[line]
	return off, ok
}

// Len returns the number of entries, including the one-past-end entry
func (ix *Index) Len() int {
	return len(ix.offsets)
}

// Lines returns the number of real lines in the data file
func (ix *Index) Lines() uint64 {
	if len(ix.offsets) == 0 {
		return 0
	}
	return uint64(len(ix.offsets) - 1)
}

// Source returns the fingerprint of the data file the index was built from
func (ix *Index) Source() Fingerprint {
	return ix.source
}

// Offsets returns a copy of the full mapping
func (ix *Index) Offsets() map[uint64]uint64 {
	out := make(map[uint64]uint64, len(ix.offsets))
	for k, v := range ix.offsets {
		out[k] = v
	}
	return out
}

// Build scans the data file once and returns its index
func Build(path string) (*Index, error) {
	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return nil, lerrors.NewFileError("open", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, lerrors.NewFileError("stat", path, err)
	}

	offsets, hash, err := scan(file)
	if err != nil {
		return nil, lerrors.NewFileError("read", path, err)
	}

	ix := New(offsets, Fingerprint{
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
		Hash:    hash,
	})
	logBuilt(path, ix, time.Since(start))
	return ix, nil
}

// scan reads r to the end, recording where each line starts.
// The entry for the next line is inserted before the end of input is checked,
// which is what produces the one-past-end entry.
func scan(r io.Reader) (map[uint64]uint64, uint64, error) {
	reader := bufio.NewReaderSize(r, scanBufferSize)
	digest := xxhash.New()

	offsets := map[uint64]uint64{1: 0}
	line := uint64(2)
	var pos uint64

	for {
		var n uint64
		chunk, err := reader.ReadSlice(Delimiter)
		for err == bufio.ErrBufferFull {
			// line longer than the buffer; keep consuming until the delimiter
			n += uint64(len(chunk))
			digest.Write(chunk)
			chunk, err = reader.ReadSlice(Delimiter)
		}
		if err != nil && err != io.EOF {
			return nil, 0, err
		}
		n += uint64(len(chunk))
		digest.Write(chunk)
		if n == 0 {
			// nothing left to read
			break
		}
		pos += n
		offsets[line] = pos
		line++
		if err == io.EOF {
			break
		}
	}
	return offsets, digest.Sum64(), nil
}
