// Package testing holds helpers shared by the package tests: data file
// fixtures and retrying timing assertions.
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// DefaultDataFileName is the name WriteDataFile uses inside its temp dir
const DefaultDataFileName = "lines.txt"

// WriteDataFile writes content to a fresh temp dir and returns the file path
func WriteDataFile(t testing.TB, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultDataFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write data file: %v", err)
	}
	return path
}

// GenerateLines returns n newline-terminated lines whose text is
// format applied to the 1-based line number.
func GenerateLines(n int, format string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, format, i)
		b.WriteByte('\n')
	}
	return b.String()
}

// GenerateLongLine returns a single unterminated line of n copies of c
func GenerateLongLine(n int, c byte) string {
	return strings.Repeat(string(c), n)
}
