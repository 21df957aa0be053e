package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/bits"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const shingleSize = 3

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Normalize strips HTML boilerplate and reduces the text to a lowercase
// word stream suitable for shingling. Malformed markup falls back to the
// raw text; an empty result means the article is unfingerprintable.
func Normalize(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	if strings.Contains(trimmed, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
		if err == nil {
			doc.Find("script, style, nav, header, footer, aside").Remove()
			if extracted := strings.TrimSpace(doc.Text()); extracted != "" {
				trimmed = extracted
			}
		}
	}

	lowered := strings.ToLower(trimmed)
	return strings.TrimSpace(nonWord.ReplaceAllString(lowered, " "))
}

// ContentHash returns the exact-text hash used for identity and audit.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Fingerprint computes a 64-bit simhash over word shingles of the
// normalized text. Returns zero when the text yields no shingles.
func Fingerprint(text string) uint64 {
	words := strings.Fields(Normalize(text))
	if len(words) == 0 {
		return 0
	}

	shingles := make([]string, 0, len(words))
	if len(words) < shingleSize {
		shingles = append(shingles, strings.Join(words, " "))
	} else {
		for i := 0; i+shingleSize <= len(words); i++ {
			shingles = append(shingles, strings.Join(words[i:i+shingleSize], " "))
		}
	}

	var counts [64]int
	for _, shingle := range shingles {
		h := fnv.New64a()
		_, _ = h.Write([]byte(shingle))
		value := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if value&(1<<uint(bit)) != 0 {
				counts[bit]++
			} else {
				counts[bit]--
			}
		}
	}

	var fingerprint uint64
	for bit := 0; bit < 64; bit++ {
		if counts[bit] > 0 {
			fingerprint |= 1 << uint(bit)
		}
	}
	return fingerprint
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
