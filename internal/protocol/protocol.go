// Package protocol implements the fixed-size command frames clients send and
// the status lines the server answers with.
//
// Every frame is exactly 7 bytes:
//
//	[0]    command tag: '0' GET, '1' QUIT, '2' SHUTDOWN
//	[1:5]  big-endian uint32 argument (line number for GET, ignored otherwise)
//	[5]    checksum
//	[6]    '\n'
//
// The checksum is the sum of the command's canonical bytes modulo 256. For
// GET those are the tag followed by the four argument bytes; for QUIT and
// SHUTDOWN only the tag counts.
//
// The server splits the stream on '\n' before decoding, so a frame whose
// argument or checksum contains 0x0A arrives as two short chunks and cannot
// be delivered. Framable reports whether a command avoids that.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	lerrors "github.com/standardbeagle/linedb/internal/errors"
)

// FrameSize is the length of every command frame including the terminator
const FrameSize = 7

// Terminator ends every command frame
const Terminator = '\n'

// Command tags
const (
	TagGet      byte = '0'
	TagQuit     byte = '1'
	TagShutdown byte = '2'
)

// Responses written by the server
const (
	ResponseOK       = "OK\r\n"
	ResponseErr      = "ERR\r\n"
	ResponseShutdown = "SHUTDOWN\r\n"
)

var (
	// ErrClientDisconnected means the read produced no bytes at all
	ErrClientDisconnected = errors.New("client disconnected")
	// ErrParse covers frames of the wrong size and unknown command tags
	ErrParse = errors.New("parse error")
	// ErrInvalidChecksum means the frame was well formed but its checksum did not match
	ErrInvalidChecksum = errors.New("invalid checksum")
	// ErrUnframeable means the encoded command contains the terminator
	// before its last byte, so the server would read it as two chunks
	ErrUnframeable = errors.New("command cannot be framed")
)

// Kind identifies a command
type Kind byte

const (
	KindGet Kind = iota + 1
	KindQuit
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "GET"
	case KindQuit:
		return "QUIT"
	case KindShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// Command is a decoded client request
type Command struct {
	Kind Kind
	// Line is the requested line number; only meaningful for KindGet
	Line uint32
}

// Get builds a GET command
func Get(line uint32) Command { return Command{Kind: KindGet, Line: line} }

// Quit builds a QUIT command
func Quit() Command { return Command{Kind: KindQuit} }

// Shutdown builds a SHUTDOWN command
func Shutdown() Command { return Command{Kind: KindShutdown} }

func (c Command) String() string {
	if c.Kind == KindGet {
		return fmt.Sprintf("GET %d", c.Line)
	}
	return c.Kind.String()
}

// Tag returns the wire tag of the command
func (c Command) Tag() byte {
	switch c.Kind {
	case KindGet:
		return TagGet
	case KindQuit:
		return TagQuit
	case KindShutdown:
		return TagShutdown
	default:
		return 0
	}
}

// Canonical returns the bytes the checksum is computed over
func (c Command) Canonical() []byte {
	if c.Kind != KindGet {
		return []byte{c.Tag()}
	}
	b := make([]byte, 5)
	b[0] = TagGet
	binary.BigEndian.PutUint32(b[1:], c.Line)
	return b
}

// Checksum returns the sum of the canonical bytes modulo 256
func Checksum(c Command) byte {
	var sum byte
	for _, b := range c.Canonical() {
		sum += b
	}
	return sum
}

// Frame is a decoded command together with the checksum that validated it
type Frame struct {
	Command  Command
	Checksum byte
}

// Decode turns raw bytes read up to and including the terminator into a Frame.
//
// Errors wrap ErrClientDisconnected, ErrParse or ErrInvalidChecksum and carry
// the *errors.FrameError type.
func Decode(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, lerrors.NewFrameError(lerrors.ErrorTypeDisconnected, "", ErrClientDisconnected)
	}
	if len(raw) != FrameSize {
		return Frame{}, lerrors.NewFrameError(lerrors.ErrorTypeParse,
			fmt.Sprintf("frame is %d bytes, want %d", len(raw), FrameSize), ErrParse)
	}

	var cmd Command
	switch raw[0] {
	case TagGet:
		cmd = Get(binary.BigEndian.Uint32(raw[1:5]))
	case TagQuit:
		cmd = Quit()
	case TagShutdown:
		cmd = Shutdown()
	default:
		return Frame{}, lerrors.NewFrameError(lerrors.ErrorTypeParse,
			fmt.Sprintf("unknown command tag %#02x", raw[0]), ErrParse)
	}

	got := raw[5]
	if want := Checksum(cmd); got != want {
		return Frame{}, lerrors.NewFrameError(lerrors.ErrorTypeChecksum,
			fmt.Sprintf("got %#02x, want %#02x", got, want), ErrInvalidChecksum)
	}
	return Frame{Command: cmd, Checksum: got}, nil
}

// Encode produces the wire frame for cmd.
// The argument bytes are zero for QUIT and SHUTDOWN.
func Encode(cmd Command) []byte {
	b := make([]byte, FrameSize)
	b[0] = cmd.Tag()
	if cmd.Kind == KindGet {
		binary.BigEndian.PutUint32(b[1:5], cmd.Line)
	}
	b[5] = Checksum(cmd)
	b[6] = Terminator
	return b
}

// Framable reports whether cmd encodes without a terminator byte ahead of the
// final one. GET 10 (argument byte 0x0A) and GET 218 (checksum 0x0A) are not.
func Framable(cmd Command) bool {
	return bytes.IndexByte(Encode(cmd)[:FrameSize-1], Terminator) < 0
}
