// Package database exposes an indexed, read-only text file as a record store
// addressed by line number.
package database

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/linedb/internal/debug"
	lerrors "github.com/standardbeagle/linedb/internal/errors"
	"github.com/standardbeagle/linedb/internal/index"
)

// ErrLineNotFound is returned for line numbers the index has no entry for
var ErrLineNotFound = errors.New("line not found")

// Database owns the data file path and the shared immutable index
type Database struct {
	path  string
	index *index.Index
}

// Open loads or builds the index for dataPath. See index.LoadOrBuild.
func Open(dataPath, cachePath string, persist bool, opts ...index.LoadOption) (*Database, error) {
	ix, err := index.LoadOrBuild(dataPath, cachePath, persist, opts...)
	if err != nil {
		return nil, err
	}
	return New(dataPath, ix), nil
}

// New wraps an index that was already built for dataPath
func New(dataPath string, ix *index.Index) *Database {
	return &Database{path: dataPath, index: ix}
}

// Path returns the data file path
func (db *Database) Path() string { return db.path }

// Index returns the shared index
func (db *Database) Index() *index.Index { return db.index }

// Lines returns the number of lines in the data file
func (db *Database) Lines() uint64 { return db.index.Lines() }

// Session opens a new read handle on the data file
func (db *Database) Session() (*Session, error) {
	file, err := os.Open(db.path)
	if err != nil {
		return nil, lerrors.NewFileError("open", db.path, err)
	}
	return &Session{
		file:   file,
		reader: bufio.NewReader(file),
		index:  db.index,
	}, nil
}

// Watch reports writes, renames and removals of the data file until ctx is
// done. The index is left untouched; callers decide what to do about it.
func (db *Database) Watch(ctx context.Context, onChange func(fsnotify.Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory so that editors replacing the file are still seen
	dir := filepath.Dir(db.path)
	if err := watcher.Add(dir); err != nil {
		return lerrors.NewFileError("watch", dir, err)
	}
	target := filepath.Clean(db.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
				onChange(event)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Warn(debug.ComponentIndex, "watch error on %s: %v", db.path, err)
		}
	}
}

// Session is a single connection's view of the database.
// It is not safe for concurrent use.
type Session struct {
	file   *os.File
	reader *bufio.Reader
	index  *index.Index
}

// Get returns the content of line, including its trailing newline if it has one.
// The one-past-end line yields an empty string.
func (s *Session) Get(line uint64) (string, error) {
	offset, ok := s.index.Offset(line)
	if !ok {
		return "", fmt.Errorf("line %d: %w", line, ErrLineNotFound)
	}

	if _, err := s.file.Seek(int64(offset), io.SeekStart); err != nil {
		return "", lerrors.NewFileError("seek", s.file.Name(), err)
	}
	s.reader.Reset(s.file)

	content, err := s.reader.ReadString(index.Delimiter)
	if err != nil && err != io.EOF {
		return "", lerrors.NewFileError("read", s.file.Name(), err)
	}
	return content, nil
}

// Close releases the file handle
func (s *Session) Close() error {
	return s.file.Close()
}
