// Package draft defines the persisted draft record and the consent-gated store
// that keeps a bounded, newest-first history of drafts per form key.
package draft

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand/v2"
	"strconv"
	"time"
)

const (
	// SchemaVersion is the record format written by this package.
	SchemaVersion = "2.0"
	// DefaultMaxDrafts bounds the history kept per form key.
	DefaultMaxDrafts = 5
)

// Metadata describes where a draft came from.
type Metadata struct {
	UserAgent   string `json:"userAgent"`
	URL         string `json:"url"`
	FormVersion string `json:"formVersion,omitempty"`
}

// Draft is one immutable snapshot of a form's filtered fields. Data holds the
// serialized payload after compression and obfuscation; the flags record
// which of those were applied.
type Draft struct {
	ID         string    `json:"id"`
	Data       string    `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	Checksum   string    `json:"checksum,omitempty"`
	Compressed bool      `json:"compressed,omitempty"`
	Encrypted  bool      `json:"encrypted,omitempty"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Age returns how long ago the draft was captured.
func (d Draft) Age(now time.Time) time.Duration {
	age := now.Sub(d.Timestamp)
	if age < 0 {
		return 0
	}
	return age
}

// Validate checks the fields every stored draft must carry.
func (d Draft) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("draft: missing ID")
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("draft: %s missing timestamp", d.ID)
	}
	return nil
}

// Set is the ordered draft history of one form key, newest first.
type Set []Draft

// Prepend returns a new set with d in front, truncated to max entries.
// A non-positive max keeps DefaultMaxDrafts.
func (s Set) Prepend(d Draft, max int) Set {
	if max <= 0 {
		max = DefaultMaxDrafts
	}
	out := make(Set, 0, min(len(s)+1, max))
	out = append(out, d)
	for _, existing := range s {
		if len(out) == max {
			break
		}
		out = append(out, existing)
	}
	return out
}

// Without returns a new set minus the draft with the given id.
func (s Set) Without(id string) Set {
	out := make(Set, 0, len(s))
	for _, d := range s {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}

// Find returns the draft with the given id.
func (s Set) Find(id string) (Draft, bool) {
	for _, d := range s {
		if d.ID == id {
			return d, true
		}
	}
	return Draft{}, false
}

// Newest returns the first draft, if any.
func (s Set) Newest() (Draft, bool) {
	if len(s) == 0 {
		return Draft{}, false
	}
	return s[0], true
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// idEntropy is swapped in tests.
var idEntropy io.Reader = rand.Reader

// NewID returns draft_<unix-millis>_<9 random base36 chars>. If the system
// entropy source fails the suffix comes from math/rand instead.
func NewID(now time.Time) string {
	suffix := make([]byte, 9)
	limit := big.NewInt(int64(len(idAlphabet)))
	for i := range suffix {
		n, err := rand.Int(idEntropy, limit)
		if err != nil {
			suffix[i] = idAlphabet[mrand.IntN(len(idAlphabet))]
			continue
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return "draft_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}
