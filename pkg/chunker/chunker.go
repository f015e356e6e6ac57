// Package chunker splits byte streams into fixed-size, checksummed chunks.
//
// Every chunk serializes to a 48-byte header followed by its data:
//
//	[32]byte  SHA-256 of the data
//	uint64    N, the data length (big-endian)
//	uint64    Index, the chunk position in the file (big-endian)
//	[]byte    data
//
// The configured chunk size is the size of the serialized chunk, so each
// chunk carries at most ChunkSize-HeaderSize bytes of file data. This keeps
// stored objects at a predictable size regardless of the header.
package chunker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the serialized size of the chunk header: checksum + N + Index.
const HeaderSize = sha256.Size + 8 + 8

var (
	// ErrShortChunk is returned by Parse when the input is smaller than a header.
	ErrShortChunk = errors.New("chunk shorter than header")

	// ErrCorruptChunk is returned when a chunk's length or checksum does not
	// match its data.
	ErrCorruptChunk = errors.New("corrupt chunk")
)

// Chunk is one piece of a file together with its header fields.
type Chunk struct {
	Data     []byte
	N        uint64
	Name     string // not serialized
	Checksum [32]byte
	Index    uint64
	Err      error // set on the final chunk of a failed stream; not serialized
}

// Bytes returns the chunk as: [32]byte checksum | uint64 N | uint64 Index | data.
func (c *Chunk) Bytes() []byte {
	buf := make([]byte, HeaderSize+len(c.Data))
	copy(buf[:32], c.Checksum[:])
	binary.BigEndian.PutUint64(buf[32:40], c.N)
	binary.BigEndian.PutUint64(buf[40:48], c.Index)
	copy(buf[HeaderSize:], c.Data)
	return buf
}

// ChecksumHex returns the checksum as a lowercase hex string, the form
// recorded in chunk metadata.
func (c *Chunk) ChecksumHex() string {
	return hex.EncodeToString(c.Checksum[:])
}

// Verify reports whether the header matches the data.
func (c *Chunk) Verify() error {
	if c.N != uint64(len(c.Data)) {
		return fmt.Errorf("%w: header length %d, data length %d", ErrCorruptChunk, c.N, len(c.Data))
	}
	if sum := sha256.Sum256(c.Data); !bytes.Equal(sum[:], c.Checksum[:]) {
		return fmt.Errorf("%w: checksum mismatch at index %d", ErrCorruptChunk, c.Index)
	}
	return nil
}

// Parse reconstructs a Chunk from its serialized form (the inverse of Bytes).
// The data slice is copied so the result does not alias b.
func Parse(b []byte) (*Chunk, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortChunk, len(b))
	}
	var c Chunk
	copy(c.Checksum[:], b[:32])
	c.N = binary.BigEndian.Uint64(b[32:40])
	c.Index = binary.BigEndian.Uint64(b[40:48])
	if c.N != uint64(len(b)-HeaderSize) {
		return nil, fmt.Errorf("%w: header length %d, payload length %d", ErrCorruptChunk, c.N, len(b)-HeaderSize)
	}
	c.Data = make([]byte, len(b)-HeaderSize)
	copy(c.Data, b[HeaderSize:])
	return &c, nil
}

// Name returns the object name for chunk index i of file.
func Name(file string, i uint64) string {
	return fmt.Sprintf("%s-chunk-%d", file, i)
}

// newChunk builds a chunk over data, which must not be reused by the caller.
func newChunk(file string, i uint64, data []byte) Chunk {
	return Chunk{
		Data:     data,
		N:        uint64(len(data)),
		Name:     Name(file, i),
		Checksum: sha256.Sum256(data),
		Index:    i,
	}
}

// FileChunker splits streams into chunks of a fixed serialized size.
type FileChunker struct {
	ChunkSize int
}

// New creates a FileChunker. chunkSize is the serialized chunk size and
// must leave room for at least one data byte after the header.
func New(chunkSize int) (*FileChunker, error) {
	if chunkSize <= HeaderSize {
		return nil, fmt.Errorf("chunk size %d must be greater than header size %d", chunkSize, HeaderSize)
	}
	return &FileChunker{ChunkSize: chunkSize}, nil
}

// DataSize is the number of file bytes carried by each full chunk.
func (fc *FileChunker) DataSize() int {
	return fc.ChunkSize - HeaderSize
}

// Stream reads r to EOF and emits its chunks on the returned channel.
// Chunks are named after name and indexed from zero. Every chunk except the
// last carries exactly DataSize bytes; an empty reader yields no chunks.
//
// A read error is delivered as a final chunk with Err set. The channel is
// closed when the reader is exhausted, on error, or when ctx is cancelled;
// callers that stop early must cancel ctx so the producer can exit.
func (fc *FileChunker) Stream(ctx context.Context, r io.Reader, name string) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		size := fc.DataSize()
		if size <= 0 {
			send(Chunk{Err: fmt.Errorf("chunk size %d must be greater than header size %d", fc.ChunkSize, HeaderSize)})
			return
		}
		for index := uint64(0); ; index++ {
			buf := make([]byte, size)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				if !send(newChunk(name, index, buf[:n])) {
					return
				}
			}
			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				if n > 0 {
					index++
				}
				send(Chunk{Index: index, Err: err})
				return
			}
		}
	}()
	return ch
}

// Split chunks an in-memory byte slice. The returned chunks alias data.
// A chunker without room for data returns nil.
func (fc *FileChunker) Split(data []byte, name string) []Chunk {
	size := fc.DataSize()
	if size <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (len(data)+size-1)/size)
	for i, offset := uint64(0), 0; offset < len(data); i, offset = i+1, offset+size {
		end := min(offset+size, len(data))
		chunks = append(chunks, newChunk(name, i, data[offset:end]))
	}
	return chunks
}
