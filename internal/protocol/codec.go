// Package protocol implements the datagram wire formats spoken between relay
// clients and the relay server.
//
// Clients send length-prefixed frames:
//
//	[usernameLen: 1 byte][username: usernameLen bytes][message: remaining bytes]
//
// The relay answers with plain UTF-8 text of the form "username: message"
// and no length prefix. Clients render relay frames as-is, so the two shapes
// are intentionally different.
package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxFrameSize is the practical ceiling for a single datagram.
	MaxFrameSize = 4096
	// MaxUsernameLen is the largest username representable by the 1-byte prefix.
	MaxUsernameLen = 255
	// JoinTag prefixes the announcement a client sends right after starting.
	JoinTag = "[JOIN] "
)

var (
	// ErrMalformedFrame is returned when the declared username length does
	// not fit in the received buffer.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidEncoding is returned when the username or message is not UTF-8.
	ErrInvalidEncoding = errors.New("invalid utf-8 encoding")
	// ErrUsernameTooLong is returned when a username exceeds MaxUsernameLen bytes.
	ErrUsernameTooLong = errors.New("username too long")
	// ErrFrameTooLarge is returned when an encoded client frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// DecodeInbound splits a client frame into username and message.
func DecodeInbound(frame []byte) (username, message string, err error) {
	if len(frame) == 0 {
		return "", "", fmt.Errorf("%w: empty datagram", ErrMalformedFrame)
	}

	end := 1 + int(frame[0])
	if len(frame) < end {
		return "", "", fmt.Errorf("%w: username length %d exceeds %d available bytes",
			ErrMalformedFrame, frame[0], len(frame)-1)
	}

	nameBytes := frame[1:end]
	msgBytes := frame[end:]
	if !utf8.Valid(nameBytes) {
		return "", "", fmt.Errorf("%w: username", ErrInvalidEncoding)
	}
	if !utf8.Valid(msgBytes) {
		return "", "", fmt.Errorf("%w: message", ErrInvalidEncoding)
	}

	return string(nameBytes), string(msgBytes), nil
}

// EncodeRelay builds the frame the relay sends to every other client.
// Callers keep the result under MaxFrameSize; no limit is enforced here.
func EncodeRelay(username, message string) []byte {
	out := make([]byte, 0, len(username)+2+len(message))
	out = append(out, username...)
	out = append(out, ':', ' ')
	out = append(out, message...)
	return out
}

// EncodeClientFrame builds the length-prefixed frame a client sends to the relay.
func EncodeClientFrame(username, message string) ([]byte, error) {
	if len(username) > MaxUsernameLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrUsernameTooLong, len(username), MaxUsernameLen)
	}

	size := 1 + len(username) + len(message)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, MaxFrameSize)
	}

	frame := make([]byte, 0, size)
	frame = append(frame, byte(len(username)))
	frame = append(frame, username...)
	frame = append(frame, message...)
	return frame, nil
}

// JoinMessage returns the body of a join announcement. The relay forwards it
// like any other message.
func JoinMessage(text string) string {
	return JoinTag + text
}
