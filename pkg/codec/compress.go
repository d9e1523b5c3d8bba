package codec

import (
	"bytes"
	"encoding/base64"
	"io"

	"github.com/klauspost/compress/flate"
)

// Flate compresses with DEFLATE and renders the result as standard base64 so
// it survives cookie-style string stores.
type Flate struct {
	// Level is a flate compression level; zero selects flate.BestCompression.
	Level int
}

func (f Flate) level() int {
	if f.Level == 0 {
		return flate.BestCompression
	}
	return f.Level
}

func (f Flate) Compress(text string) (string, bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, f.level())
	if err != nil {
		return text, false
	}
	if _, err := io.WriteString(w, text); err != nil {
		_ = w.Close()
		return text, false
	}
	if err := w.Close(); err != nil {
		return text, false
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), true
}

func (f Flate) Decompress(text string, wasCompressed bool) string {
	if !wasCompressed {
		return text
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return text
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return text
	}
	return string(out)
}
