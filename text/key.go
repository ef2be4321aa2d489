package text

// MaxKeyLength is the longest key memcached accepts.
const MaxKeyLength = 250

// ValidateKey checks a key against the text protocol rules: non-empty,
// at most 250 bytes, no whitespace and no control bytes.
func ValidateKey(key string) error {
	if len(key) == 0 {
		return &InvalidKeyError{Key: key, Reason: "key is empty"}
	}
	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Key: key, Reason: "key exceeds 250 bytes"}
	}
	for i := 0; i < len(key); i++ {
		if b := key[i]; b <= ' ' || b == 0x7f {
			return &InvalidKeyError{Key: key, Reason: "key contains whitespace or control characters"}
		}
	}
	return nil
}
