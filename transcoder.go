package xmemcache

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/golang/snappy"
)

// Transcoder converts between Go values and the bytes and flags stored in memcached.
type Transcoder[T any] interface {
	Encode(v T) ([]byte, uint32, error)
	Decode(data []byte, flags uint32) (T, error)
}

// BytesTranscoder stores raw bytes as is.
type BytesTranscoder struct{}

func (BytesTranscoder) Encode(v []byte) ([]byte, uint32, error) {
	return v, 0, nil
}

func (BytesTranscoder) Decode(data []byte, _ uint32) ([]byte, error) {
	return data, nil
}

type StringTranscoder struct{}

func (StringTranscoder) Encode(v string) ([]byte, uint32, error) {
	return []byte(v), FlagString, nil
}

func (StringTranscoder) Decode(data []byte, _ uint32) (string, error) {
	return string(data), nil
}

// Int64Transcoder stores integers in decimal so that incr and decr work on them.
type Int64Transcoder struct{}

func (Int64Transcoder) Encode(v int64) ([]byte, uint32, error) {
	return strconv.AppendInt(nil, v, 10), FlagInt64, nil
}

func (Int64Transcoder) Decode(data []byte, _ uint32) (int64, error) {
	// incr and decr may leave trailing spaces when the value shrinks
	end := len(data)
	for end > 0 && data[end-1] == ' ' {
		end--
	}
	v, err := strconv.ParseInt(string(data[:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memcache: decode int64: %w", err)
	}
	return v, nil
}

type JSONTranscoder[T any] struct{}

func (JSONTranscoder[T]) Encode(v T) ([]byte, uint32, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, 0, fmt.Errorf("memcache: encode json: %w", err)
	}
	return data, FlagJSON, nil
}

func (JSONTranscoder[T]) Decode(data []byte, flags uint32) (T, error) {
	var v T
	if flags&FlagJSON == 0 {
		return v, fmt.Errorf("memcache: decode json: unexpected flags %#x", flags)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("memcache: decode json: %w", err)
	}
	return v, nil
}

// DefaultCompressionThreshold is the value size above which CompressingTranscoder compresses.
const DefaultCompressionThreshold = 1024

// CompressingTranscoder compresses the output of Inner with snappy when it is
// larger than Threshold and compression actually saves space.
type CompressingTranscoder[T any] struct {
	Inner     Transcoder[T]
	Threshold int // 0 uses DefaultCompressionThreshold
	MinRatio  float64
}

func NewCompressingTranscoder[T any](inner Transcoder[T]) *CompressingTranscoder[T] {
	return &CompressingTranscoder[T]{
		Inner:     inner,
		Threshold: DefaultCompressionThreshold,
		MinRatio:  0.9,
	}
}

func (t *CompressingTranscoder[T]) Encode(v T) ([]byte, uint32, error) {
	data, flags, err := t.Inner.Encode(v)
	if err != nil {
		return nil, 0, err
	}

	threshold := t.Threshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	if len(data) <= threshold {
		return data, flags, nil
	}

	compressed := snappy.Encode(nil, data)
	if t.MinRatio > 0 && float64(len(compressed))/float64(len(data)) > t.MinRatio {
		return data, flags, nil
	}
	return compressed, flags | FlagCompressed, nil
}

func (t *CompressingTranscoder[T]) Decode(data []byte, flags uint32) (T, error) {
	if flags&FlagCompressed != 0 {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("memcache: decompress: %w", err)
		}
		data = decoded
		flags &^= FlagCompressed
	}
	return t.Inner.Decode(data, flags)
}
