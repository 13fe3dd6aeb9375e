package models

import (
	"strings"
)

// IndicatorType represents the type of an observable carried by a threat record
type IndicatorType string

const (
	IndicatorTypeDomain      IndicatorType = "domain"
	IndicatorTypeIP          IndicatorType = "ip"
	IndicatorTypeIPv6        IndicatorType = "ipv6"
	IndicatorTypeHash        IndicatorType = "hash"
	IndicatorTypeURL         IndicatorType = "url"
	IndicatorTypeCertificate IndicatorType = "certificate"
	IndicatorTypeEmail       IndicatorType = "email"
	IndicatorTypeASN         IndicatorType = "asn"
	IndicatorTypeNameserver  IndicatorType = "nameserver"
	IndicatorTypeFilePath    IndicatorType = "filepath"
	IndicatorTypeRegistry    IndicatorType = "registry"
)

// Indicator is a typed observable. The same shape is used for generic
// indicators and for infrastructure artifacts; the bucket a value lives in
// is decided by the record that carries it.
type Indicator struct {
	Type  IndicatorType `json:"type"`
	Value string        `json:"value"`
}

// NormalizedValue returns the trimmed, lowercased value
func (i Indicator) NormalizedValue() string {
	return strings.ToLower(strings.TrimSpace(i.Value))
}

// Key returns the normalized "type:value" key used by indexes and set math
func (i Indicator) Key() string {
	return string(normalizeType(i.Type)) + ":" + i.NormalizedValue()
}

func normalizeType(t IndicatorType) IndicatorType {
	return IndicatorType(strings.ToLower(strings.TrimSpace(string(t))))
}

// IndicatorKeys returns the normalized keys of the given indicators,
// skipping blank values.
func IndicatorKeys(indicators []Indicator) []string {
	keys := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		if ind.NormalizedValue() == "" {
			continue
		}
		keys = append(keys, ind.Key())
	}
	return keys
}

// GroupByType buckets normalized indicator values by their type
func GroupByType(indicators []Indicator) map[IndicatorType]map[string]struct{} {
	out := make(map[IndicatorType]map[string]struct{})
	for _, ind := range indicators {
		v := ind.NormalizedValue()
		if v == "" {
			continue
		}
		t := normalizeType(ind.Type)
		set, ok := out[t]
		if !ok {
			set = make(map[string]struct{})
			out[t] = set
		}
		set[v] = struct{}{}
	}
	return out
}
