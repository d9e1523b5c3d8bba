// Package codec turns a serialized draft body into its stored form and back.
//
// Encoding applies compression first and obfuscation second; decoding undoes
// them in the reverse order. Each step reports whether it was actually
// applied so the record's flags never claim a transform that did not happen.
// Failed steps fall back to their input instead of returning an error.
//
// The default obfuscator (XOR) is not encryption. Use Sealed with a real
// secret when stored drafts must stay confidential.
package codec

import (
	"encoding/binary"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Compressor reversibly shrinks text into a printable string.
type Compressor interface {
	// Compress returns the encoded text and true, or the input and false on failure.
	Compress(text string) (string, bool)
	// Decompress reverses Compress when wasCompressed is set. Failures return text unchanged.
	Decompress(text string, wasCompressed bool) string
}

// Obfuscator reversibly scrambles text into a printable string.
type Obfuscator interface {
	Obfuscate(text string) (string, bool)
	Deobfuscate(text string, wasObfuscated bool) string
}

// Checksum returns a base36 64-bit BLAKE2b digest of text. It detects
// accidental corruption only; it is not a security control.
func Checksum(text string) string {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// Only reachable with an invalid size or key.
		panic(err)
	}
	_, _ = h.Write([]byte(text))
	return strconv.FormatUint(binary.BigEndian.Uint64(h.Sum(nil)), 36)
}

// Encoded is the stored form of one payload.
type Encoded struct {
	Data       string
	Checksum   string
	Compressed bool
	Obfuscated bool
}

// Codec chains an optional Compressor and an optional Obfuscator.
type Codec struct {
	Compressor Compressor
	Obfuscator Obfuscator
}

// New builds a codec. Either argument may be nil to skip that step.
func New(compressor Compressor, obfuscator Obfuscator) *Codec {
	return &Codec{Compressor: compressor, Obfuscator: obfuscator}
}

// Encode checksums text, then compresses and obfuscates it.
func (c *Codec) Encode(text string) Encoded {
	out := Encoded{Data: text, Checksum: Checksum(text)}
	if c == nil {
		return out
	}
	if c.Compressor != nil {
		out.Data, out.Compressed = c.Compressor.Compress(out.Data)
	}
	if c.Obfuscator != nil {
		out.Data, out.Obfuscated = c.Obfuscator.Obfuscate(out.Data)
	}
	return out
}

// Decode reverses Encode using the flags recorded at encode time.
// A flagged step this codec has no transform for is left in place.
func (c *Codec) Decode(data string, compressed, obfuscated bool) string {
	if c == nil {
		return data
	}
	if obfuscated && c.Obfuscator != nil {
		data = c.Obfuscator.Deobfuscate(data, true)
	}
	if compressed && c.Compressor != nil {
		data = c.Compressor.Decompress(data, true)
	}
	return data
}

// Verify reports whether text matches a previously computed checksum.
// An empty checksum always verifies.
func Verify(text, checksum string) bool {
	return checksum == "" || Checksum(text) == checksum
}
