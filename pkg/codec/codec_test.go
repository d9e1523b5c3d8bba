package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payloads = []string{
	"",
	"a",
	`{"name":"Ana","phone":"(11) 99999-0000"}`,
	`{"notes":"corte + barba, às 15h, cliente prefere tesoura","n":[1,2,3]}`,
	strings.Repeat(`{"k":"repetitive payload"}`, 200),
	"emoji 💈✂️ and control \t\n chars",
}

func TestCodecRoundTrip(t *testing.T) {
	sealed, err := NewSealed([]byte("server-side secret"), "client-form")
	require.NoError(t, err)

	codecs := map[string]*Codec{
		"plain":           New(nil, nil),
		"compressed":      New(Flate{}, nil),
		"xor":             New(nil, NewXOR("client-form")),
		"compressed+xor":  New(Flate{}, NewXOR("client-form")),
		"sealed":          New(nil, sealed),
		"compressed+seal": New(Flate{}, sealed),
	}

	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			for _, payload := range payloads {
				enc := c.Encode(payload)
				assert.Equal(t, Checksum(payload), enc.Checksum)
				got := c.Decode(enc.Data, enc.Compressed, enc.Obfuscated)
				assert.Equal(t, payload, got)
			}
		})
	}
}

func TestEncodeFlagsReflectAppliedSteps(t *testing.T) {
	enc := New(Flate{}, NewXOR("k")).Encode("hello")
	assert.True(t, enc.Compressed)
	assert.True(t, enc.Obfuscated)
	assert.NotEqual(t, "hello", enc.Data)

	enc = New(nil, nil).Encode("hello")
	assert.False(t, enc.Compressed)
	assert.False(t, enc.Obfuscated)
	assert.Equal(t, "hello", enc.Data)

	// An empty XOR key can't obfuscate, so the flag must stay false.
	enc = New(nil, NewXOR("")).Encode("hello")
	assert.False(t, enc.Obfuscated)
	assert.Equal(t, "hello", enc.Data)

	var nilCodec *Codec
	enc = nilCodec.Encode("hello")
	assert.Equal(t, "hello", nilCodec.Decode(enc.Data, true, true))
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, Checksum("abc"), Checksum("abc"), "checksum must be deterministic")
	assert.NotEqual(t, Checksum("abc"), Checksum("acb"), "checksum must be order sensitive")
	assert.NotEmpty(t, Checksum(""))

	assert.True(t, Verify("abc", Checksum("abc")))
	assert.False(t, Verify("abc", Checksum("abd")))
	assert.True(t, Verify("anything", ""))
}

func TestDecompressDegradesOnGarbage(t *testing.T) {
	f := Flate{}
	assert.Equal(t, "not base64 !!", f.Decompress("not base64 !!", true))
	// Valid base64 that is not a DEFLATE stream.
	assert.Equal(t, "aGVsbG8=", f.Decompress("aGVsbG8=", true))
	assert.Equal(t, "untouched", f.Decompress("untouched", false))
}

func TestXORDeobfuscateDegrades(t *testing.T) {
	x := NewXOR("key")
	assert.Equal(t, "%%%", x.Deobfuscate("%%%", true))
	assert.Equal(t, "plain", x.Deobfuscate("plain", false))
}

func TestSealed(t *testing.T) {
	_, err := NewSealed(nil, "form")
	assert.Error(t, err)

	a, err := NewSealed([]byte("secret"), "form-a")
	require.NoError(t, err)
	b, err := NewSealed([]byte("secret"), "form-b")
	require.NoError(t, err)

	first, ok := a.Obfuscate("payload")
	require.True(t, ok)
	second, _ := a.Obfuscate("payload")
	assert.NotEqual(t, first, second, "each seal uses a fresh nonce")

	assert.Equal(t, "payload", a.Deobfuscate(first, true))
	assert.Equal(t, first, b.Deobfuscate(first, true), "a different derived key must fail closed to the input")
	assert.Equal(t, "c2hvcnQ=", a.Deobfuscate("c2hvcnQ=", true), "short input can't hold a nonce")
}
