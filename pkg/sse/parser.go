package sse

import "bytes"

var frameDelimiter = []byte("\n\n")

// Parser accumulates raw chunks and yields complete SSE frames. Frames
// are delimited by a blank line; the trailing, possibly-incomplete
// fragment is retained across chunks.
type Parser struct {
	buf bytes.Buffer
}

// Feed appends a chunk and returns every complete frame it unlocked.
// Empty frames are skipped.
func (parser *Parser) Feed(chunk []byte) [][]byte {
	parser.buf.Write(chunk)

	var frames [][]byte
	for {
		data := parser.buf.Bytes()
		idx := bytes.Index(data, frameDelimiter)
		if idx < 0 {
			break
		}

		frame := make([]byte, idx)
		copy(frame, data[:idx])
		parser.buf.Next(idx + len(frameDelimiter))

		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}
		frames = append(frames, frame)
	}

	return frames
}

// Rest returns the buffered, incomplete fragment. Intended for tests.
func (parser *Parser) Rest() []byte {
	return parser.buf.Bytes()
}

// IsComment reports whether a frame is an SSE comment (keep-alive).
func IsComment(frame []byte) bool {
	return len(frame) > 0 && frame[0] == ':'
}
