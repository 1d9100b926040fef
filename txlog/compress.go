package txlog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to command payloads. The codec of
// each entry travels in the frame flags, so logs written with one setting
// remain readable under another.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// compressionRatioThreshold guards against storing compressed payloads
// that barely shrink. Below 10% savings the raw bytes are kept.
const compressionRatioThreshold = 0.9

var (
	zstdEncoderPool = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.SpeedDefault),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				panic(fmt.Sprintf("txlog: create zstd encoder: %v", err))
			}
			return enc
		},
	}

	zstdDecoderPool = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("txlog: create zstd decoder: %v", err))
			}
			return dec
		},
	}
)

// compressPayload compresses data with the requested codec. The returned
// payload is prefixed with the uncompressed size when a codec was applied.
// Falls back to CompressionNone when compression does not pay off.
func compressPayload(data []byte, c Compression) ([]byte, Compression, error) {
	if c == CompressionNone || len(data) == 0 {
		return data, CompressionNone, nil
	}

	var compressed []byte

	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))

		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible input.
			return data, CompressionNone, nil
		}

		compressed = buf[:n]
	case CompressionZSTD:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, fmt.Errorf("unknown compression codec: %d", c)
	}

	if float64(len(compressed)) > float64(len(data))*compressionRatioThreshold {
		return data, CompressionNone, nil
	}

	out := make([]byte, 4+len(compressed))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	copy(out[4:], compressed)

	return out, c, nil
}

// decompressPayload reverses compressPayload for the given codec.
func decompressPayload(data []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("compressed payload too short: %d bytes", len(data))
	}

	rawLen := binary.LittleEndian.Uint32(data[0:4])
	body := data[4:]

	switch c {
	case CompressionLZ4:
		out := make([]byte, rawLen)

		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint32(n) != rawLen {
			return nil, fmt.Errorf("lz4 decompress: size mismatch, want %d got %d", rawLen, n)
		}

		return out, nil
	case CompressionZSTD:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(body, make([]byte, 0, rawLen))
		zstdDecoderPool.Put(dec)

		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint32(len(out)) != rawLen {
			return nil, fmt.Errorf("zstd decompress: size mismatch, want %d got %d", rawLen, len(out))
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression codec: %d", c)
	}
}
