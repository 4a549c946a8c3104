package trustkit

import (
	"context"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// shadowDomainKey separates shadow log content hashes from any other use of
// BLAKE3 keyed hashing. ASCII, zero-padded to 32 bytes. Changing it breaks
// comparison with previously stored hashes.
var shadowDomainKey = [32]byte{
	't', 'r', 'u', 's', 't', 'k', 'i', 't', '.', 's', 'h', 'a', 'd', 'o', 'w', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// PreviewLength is the maximum number of runes kept before masking.
const PreviewLength = 40

// HashContent returns the hex BLAKE3 keyed hash of content. Identical
// content hashes identically, so repeat offences can be correlated without
// storing the text.
func HashContent(content string) string {
	hasher, err := blake3.NewKeyed(shadowDomainKey[:])
	if err != nil {
		panic("trustkit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.WriteString(content)
	return hex.EncodeToString(hasher.Sum(nil))
}

// RedactPreview returns a short masked preview: lower-cased, stripped to
// letters, digits and single spaces, truncated, with every character of a
// word after the first replaced by '*'.
//
// Example:
//
//	RedactPreview("Kill Everyone!!") // "k*** e*******"
func RedactPreview(content string) string {
	var b strings.Builder
	space := true
	n := 0
	for _, r := range strings.ToLower(content) {
		if n >= PreviewLength {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
			n++
		case unicode.IsSpace(r) && !space:
			b.WriteByte(' ')
			space = true
			n++
		}
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		runes := []rune(w)
		for j := 1; j < len(runes); j++ {
			runes[j] = '*'
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// ShadowRecord is the input to RecordShadowEntry.
type ShadowRecord struct {
	UserID   string
	Content  string
	Category string
	Context  string
	Severity int
	Penalty  int
	Meta     RequestMeta
}

// RecordShadowEntry appends a privacy-preserving violation record. The
// content itself is never persisted.
func (s *Service) RecordShadowEntry(ctx context.Context, rec ShadowRecord) (*ShadowLogEntry, error) {
	now := s.now()
	entry := &ShadowLogEntry{
		ID:          newLogID(now),
		UserID:      rec.UserID,
		Category:    rec.Category,
		ContentHash: HashContent(rec.Content),
		Preview:     RedactPreview(rec.Content),
		Context:     rec.Context,
		Severity:    rec.Severity,
		Penalty:     rec.Penalty,
		IPAddress:   rec.Meta.IPAddress,
		UserAgent:   rec.Meta.UserAgent,
		RequestID:   rec.Meta.RequestID,
		CreatedAt:   now,
	}
	if err := s.store.InsertShadowEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListShadowLog returns shadow log entries newest first.
func (s *Service) ListShadowLog(ctx context.Context, filter ShadowLogFilter) ([]ShadowLogEntry, error) {
	return s.store.ListShadowEntries(ctx, filter)
}
