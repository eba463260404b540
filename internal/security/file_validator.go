package security

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrBinaryData means the sampled header looks like binary data rather than text
var ErrBinaryData = errors.New("file appears to be binary")

// FileValidator checks a data file before it is indexed and served.
// Only a header is sampled, so large files cost the same as small ones.
type FileValidator struct {
	HeaderSize int64   // Size of header to read for validation
	MaxBinary  float64 // Fraction of control bytes above which the file counts as binary
}

func NewFileValidator() *FileValidator {
	return &FileValidator{
		HeaderSize: 64 * 1024, // 64KB header
		MaxBinary:  0.3,
	}
}

// ValidateDataFile returns an error if path is not a readable regular file.
// A file that merely looks binary yields an error wrapping ErrBinaryData so
// callers can decide to warn instead of refusing it.
func (fv *FileValidator) ValidateDataFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file (mode %s)", path, info.Mode())
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, fv.HeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read header: %w", err)
	}

	if fv.isBinaryData(header[:n]) {
		return fmt.Errorf("%s: %w", path, ErrBinaryData)
	}
	return nil
}

// isBinaryData checks if the sample contains mostly binary data
func (fv *FileValidator) isBinaryData(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	// Count non-printable characters
	nonPrintable := 0
	for _, b := range data {
		// Control characters (0-31 except tab, LF, CR) and DEL (127)
		if b < 9 || (b > 13 && b < 32) || b == 127 {
			nonPrintable++
		}
	}

	ratio := float64(nonPrintable) / float64(len(data))
	return ratio > fv.MaxBinary
}
