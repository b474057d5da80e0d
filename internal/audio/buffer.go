package audio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrCapacityExceeded is returned by Append when the accumulator is at its
// configured byte limit
var ErrCapacityExceeded = errors.New("audio accumulator capacity exceeded")

// ChunkCipher seals individual audio chunks with AES-GCM.
// Each chunk gets a fresh random nonce, prepended to the ciphertext.
type ChunkCipher struct {
	aead cipher.AEAD
}

// NewChunkCipher builds a cipher from a base64-encoded AES key
// (16, 24 or 32 bytes after decoding)
func NewChunkCipher(base64Key string) (*ChunkCipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}

	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("encryption key must be 16, 24 or 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &ChunkCipher{aead: aead}, nil
}

// Seal encrypts a chunk and returns nonce||ciphertext
func (c *ChunkCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed chunk, verifying its authentication tag
func (c *ChunkCipher) Open(sealed []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("sealed chunk shorter than nonce")
	}
	return c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
}

// Accumulator collects the ordered PCM chunks of one capture session.
// Chunks are optionally encrypted at rest; a snapshot decrypts and
// concatenates every chunk in append order. A failed decrypt aborts the
// snapshot rather than returning truncated audio.
type Accumulator struct {
	mu       sync.Mutex
	chunks   [][]byte
	total    int64 // plaintext bytes accumulated
	maxBytes int64 // 0 means unbounded
	cipher   *ChunkCipher
}

// NewAccumulator creates an accumulator bounded to maxBytes of audio.
// A nil cipher stores chunks in the clear.
func NewAccumulator(maxBytes int64, cipher *ChunkCipher) *Accumulator {
	return &Accumulator{
		maxBytes: maxBytes,
		cipher:   cipher,
	}
}

// Append adds one audio chunk. Empty chunks are ignored.
func (a *Accumulator) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxBytes > 0 && a.total+int64(len(data)) > a.maxBytes {
		return ErrCapacityExceeded
	}

	var stored []byte
	if a.cipher != nil {
		sealed, err := a.cipher.Seal(data)
		if err != nil {
			return fmt.Errorf("seal audio chunk: %w", err)
		}
		stored = sealed
	} else {
		// Copy so the caller can reuse its frame slice
		stored = make([]byte, len(data))
		copy(stored, data)
	}

	a.chunks = append(a.chunks, stored)
	a.total += int64(len(data))
	return nil
}

// Snapshot returns all accumulated audio as a single contiguous slice
func (a *Accumulator) Snapshot() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.chunks) == 0 {
		return nil, nil
	}

	out := make([]byte, 0, a.total)
	for i, chunk := range a.chunks {
		if a.cipher != nil {
			plain, err := a.cipher.Open(chunk)
			if err != nil {
				return nil, fmt.Errorf("decrypt audio chunk %d: %w", i, err)
			}
			out = append(out, plain...)
		} else {
			out = append(out, chunk...)
		}
	}

	return out, nil
}

// Reset discards all accumulated audio
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.chunks = nil
	a.total = 0
}

// Len returns the number of plaintext audio bytes accumulated
func (a *Accumulator) Len() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// ChunkCount returns the number of appended chunks
func (a *Accumulator) ChunkCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}
