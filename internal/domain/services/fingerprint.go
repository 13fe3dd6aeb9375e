package services

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

const fieldSep = "\x1f"

// Fingerprint returns the hex SHA-256 content hash of a record's normalized
// core fields: kind, typed indicator values, typed infrastructure values and
// severity rounded to the nearest integer. Field order and case never change
// the result. Each value is length-prefixed so no value can pass for two.
func Fingerprint(r *models.ThreatRecord) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(r.Kind)))
	b.WriteString(fieldSep)
	writeKeys(&b, normalizedKeys(r.Indicators))
	b.WriteString(fieldSep)
	writeKeys(&b, normalizedKeys(r.Infrastructure))
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(int(math.Round(r.Severity))))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// WithFingerprint returns a copy of r with ContentFingerprint populated
func WithFingerprint(r *models.ThreatRecord) *models.ThreatRecord {
	c := *r
	c.ContentFingerprint = Fingerprint(r)
	return &c
}

func writeKeys(b *strings.Builder, keys []string) {
	for _, k := range keys {
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
	}
}

// normalizedKeys returns the sorted, deduplicated type:value keys
func normalizedKeys(indicators []models.Indicator) []string {
	keys := models.IndicatorKeys(indicators)
	sort.Strings(keys)
	return slices.Compact(keys)
}
