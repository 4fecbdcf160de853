package compression

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DecoderPool manages reusable zstd decoders to reduce allocation overhead.
type DecoderPool struct {
	pool             *sync.Pool
	maxDecoderMemory uint64
	lowmem           bool
}

// DecoderPoolOption configures a DecoderPool.
type DecoderPoolOption func(*DecoderPool)

// WithDecoderLowmem enables or disables low-memory mode for pooled decoders.
func WithDecoderLowmem(b bool) DecoderPoolOption {
	return func(p *DecoderPool) {
		p.lowmem = b
	}
}

// NewDecoderPool creates a pool of zstd decoders.
// If maxMemory is 0, no memory limit is applied to decoders.
func NewDecoderPool(maxMemory uint64, opts ...DecoderPoolOption) *DecoderPool {
	p := &DecoderPool{maxDecoderMemory: maxMemory}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = &sync.Pool{
		New: func() any {
			dec, err := p.newDecoder()
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

// Get returns a decoder and a release function the caller must call when done.
// The decoder's DecodeAll writes at most cap(dst)-len(dst) bytes.
func (p *DecoderPool) Get() (*zstd.Decoder, func(), error) {
	if dec, ok := p.pool.Get().(*zstd.Decoder); ok && dec != nil {
		return dec, func() { p.pool.Put(dec) }, nil
	}
	// Pool's New function failed, try directly.
	dec, err := p.newDecoder()
	if err != nil {
		return nil, nil, err
	}
	return dec, dec.Close, nil
}

func (p *DecoderPool) newDecoder() (*zstd.Decoder, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(p.lowmem),
		zstd.WithDecodeAllCapLimit(true),
	}
	if p.maxDecoderMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
	}
	return zstd.NewReader(nil, opts...)
}

// decompress is a DecompressFunc backed by the pool.
func (p *DecoderPool) decompress(_ *Info, compressed, out []byte) error {
	dec, release, err := p.Get()
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	defer release()

	// The cap limit stops decoding once out is full.
	got, err := dec.DecodeAll(compressed, out[:0:len(out)])
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return fmt.Errorf("%w: zstd output exceeds %d bytes", ErrSizeMismatch, len(out))
	}
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	if len(got) != len(out) {
		return fmt.Errorf("%w: decoded %d bytes, want %d", ErrSizeMismatch, len(got), len(out))
	}
	if len(got) > 0 && &got[0] != &out[0] {
		copy(out, got)
	}
	return nil
}

// Decompressor returns a DecompressFunc that uses decoders from p.
func (p *DecoderPool) Decompressor() DecompressFunc {
	return p.decompress
}
