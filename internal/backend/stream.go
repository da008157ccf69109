package backend

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

const readBufferSize = 32 * 1024

// ReadChunks consumes r and returns one chunk per delivery from the
// underlying stream, with no framing of its own. Each chunk is decoded as
// UTF-8, trimmed, and dropped when empty. A rune split across two
// deliveries is carried over whole into the later chunk.
func ReadChunks(r io.Reader) ([]string, error) {
	buf := make([]byte, readBufferSize)
	var (
		chunks  []string
		pending []byte
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(pending, buf[:n]...)
			cut := completePrefix(data)
			pending = append([]byte(nil), data[cut:]...)
			chunks = appendChunk(chunks, data[:cut])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pending) > 0 {
		chunks = appendChunk(chunks, pending)
	}
	return chunks, nil
}

// completePrefix returns the length of b without a trailing partial rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

func appendChunk(chunks []string, b []byte) []string {
	s := strings.TrimSpace(strings.ToValidUTF8(string(b), "�"))
	if s == "" {
		return chunks
	}
	return append(chunks, s)
}
