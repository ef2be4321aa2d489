package xmemcache

// Client flag bits set by the transcoders. Memcached stores the 32 bit flags
// opaquely next to the value; the low bits describe the value encoding.
const (
	// FlagJSON marks a value serialized as JSON.
	FlagJSON uint32 = 1 << 0

	// FlagCompressed marks a snappy compressed value.
	FlagCompressed uint32 = 1 << 1

	// FlagInt64 marks a decimal integer, readable by incr and decr.
	FlagInt64 uint32 = 1 << 2

	// FlagString marks a UTF-8 string.
	FlagString uint32 = 1 << 3
)
