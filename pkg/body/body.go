// Package body implements the lazy, iterator-shaped request/response body
// readers: a fixed-size-block reader bound by Content-Length, and a
// chunked-transfer-encoding reader that parses hex chunk-size framing.
package body

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	cmerrors "github.com/NoZip/centimani/pkg/errors"
	"github.com/NoZip/centimani/pkg/transport"
)

// Reader is the lazy sequence every body reader implements: repeated
// calls to Next return successive blocks until io.EOF.
type Reader interface {
	Next(ctx context.Context) ([]byte, error)
}

// BufferedBodyReader reads a body of known (or unknown) size in fixed
// block sizes, the last block truncated to whatever remains.
type BufferedBodyReader struct {
	reader    transport.Reader
	bodySize  int64
	hasSize   bool
	blockSize int

	blockCount    int64
	lastBlockSize int64
	currentBlock  int64
	bytesRead     int64
}

// NewBufferedBodyReader builds a reader for a body of bodySize bytes. Pass
// hasSize=false for a body with no declared length (read until the
// transport signals EOF), matching the source's body_size=None case.
func NewBufferedBodyReader(r transport.Reader, bodySize int64, hasSize bool, blockSize int) *BufferedBodyReader {
	b := &BufferedBodyReader{reader: r, bodySize: bodySize, hasSize: hasSize, blockSize: blockSize}
	if hasSize {
		b.blockCount = bodySize / int64(blockSize)
		b.lastBlockSize = bodySize % int64(blockSize)
	}
	return b
}

// IsComplete reports whether every declared byte has been read.
func (b *BufferedBodyReader) IsComplete() bool {
	return b.hasSize && b.bytesRead == b.bodySize
}

// Next returns the next block, or io.EOF once the body is exhausted.
func (b *BufferedBodyReader) Next(ctx context.Context) ([]byte, error) {
	blockSize := b.blockSize
	if b.hasSize {
		switch {
		case b.currentBlock < b.blockCount:
			blockSize = b.blockSize
		case b.currentBlock == b.blockCount:
			blockSize = int(b.lastBlockSize)
		default:
			blockSize = 0
		}
	}

	if blockSize == 0 {
		return nil, io.EOF
	}

	block, err := b.reader.Read(ctx, blockSize)
	if err != nil {
		return nil, err
	}

	// A short read (fewer bytes than requested, including zero) below a
	// declared body length means the transport hit EOF before the body
	// was complete: that's truncation, not the reader's own clean
	// end-of-sequence signal.
	if b.hasSize && len(block) < blockSize {
		b.bytesRead += int64(len(block))
		return nil, cmerrors.NewEOFError(b.bytesRead, b.bodySize)
	}
	if len(block) == 0 {
		return nil, io.EOF
	}

	b.bytesRead += int64(len(block))
	b.currentBlock++

	return block, nil
}

// ChunkedBodyReader decodes an HTTP/1.1 chunked-transfer-encoding body,
// parsing "<hex-size>\r\n<chunk>\r\n" framing chunk by chunk.
type ChunkedBodyReader struct {
	reader       transport.Reader
	currentChunk int64
	bodySize     int64
}

// NewChunkedBodyReader builds a reader over r.
func NewChunkedBodyReader(r transport.Reader) *ChunkedBodyReader {
	return &ChunkedBodyReader{reader: r}
}

// BodySize returns the cumulative number of decoded chunk bytes read so
// far.
func (c *ChunkedBodyReader) BodySize() int64 { return c.bodySize }

// Next returns the next decoded chunk, or io.EOF after the zero-length
// terminator chunk and the trailer section after it have been read.
// Trailer lines are read up to the closing blank line and discarded
// without being parsed.
func (c *ChunkedBodyReader) Next(ctx context.Context) ([]byte, error) {
	header, err := c.reader.ReadUntil(ctx, []byte("\r\n"))
	if err != nil {
		return nil, err
	}
	header = bytes.TrimSuffix(header, []byte("\r\n"))

	// a chunk-size line may carry chunk extensions after a ';'; those
	// are not given any semantics here, matching the trailer-parsing
	// scope decision.
	if idx := bytes.IndexByte(header, ';'); idx >= 0 {
		header = header[:idx]
	}

	chunkSize, err := strconv.ParseInt(string(bytes.TrimSpace(header)), 16, 64)
	if err != nil {
		return nil, cmerrors.NewMalformedRequest(fmt.Sprintf("invalid chunk size %q", header), err)
	}

	if chunkSize == 0 {
		// consume trailer lines up to and including the blank line that
		// ends the body; their content is discarded.
		for {
			line, err := c.reader.ReadUntil(ctx, []byte("\r\n"))
			if err != nil {
				return nil, err
			}
			if len(bytes.TrimSuffix(line, []byte("\r\n"))) == 0 {
				return nil, io.EOF
			}
		}
	}

	chunk, err := c.reader.Read(ctx, int(chunkSize)+2)
	if err != nil {
		return nil, err
	}
	if len(chunk) < 2 || !bytes.Equal(chunk[len(chunk)-2:], []byte("\r\n")) {
		return nil, cmerrors.NewMalformedRequest("chunk not followed by CRLF", nil)
	}
	chunk = chunk[:len(chunk)-2]

	if len(chunk) == 0 {
		return nil, io.EOF
	}

	c.bodySize += int64(len(chunk))
	c.currentChunk++

	return chunk, nil
}

// CopyTo drains r into w block by block, returning the total number of
// bytes copied. Used both by the Pipeline's Cleanup drain (sink is an
// io.Discard-style writer) and by handlers that want to stream a request
// body straight to storage.
func CopyTo(ctx context.Context, w io.Writer, r Reader) (int64, error) {
	var total int64
	for {
		block, err := r.Next(ctx)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, werr := w.Write(block)
		total += int64(n)
		if werr != nil {
			return total, cmerrors.NewIOError("write", werr)
		}
	}
}
