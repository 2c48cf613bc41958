// Package promo resolves discount codes configured at startup.
package promo

import (
	"sort"
	"strings"
)

// Code is a discount code and its percentage.
type Code struct {
	Code    string `json:"code"`
	Percent int    `json:"discount"`
}

// Book is an immutable set of promo codes.
type Book struct {
	codes map[string]int
}

// NewBook copies codes, upper-casing keys and skipping percentages outside 1..100.
func NewBook(codes map[string]int) *Book {
	b := &Book{codes: make(map[string]int, len(codes))}
	for code, pct := range codes {
		code = Normalize(code)
		if code == "" || pct < 1 || pct > 100 {
			continue
		}
		b.codes[code] = pct
	}
	return b
}

// Normalize is the lookup form of a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns the percentage for code.
func (b *Book) Lookup(code string) (Code, bool) {
	code = Normalize(code)
	pct, ok := b.codes[code]
	if !ok {
		return Code{}, false
	}
	return Code{Code: code, Percent: pct}, true
}

// All lists every code sorted by name.
func (b *Book) All() []Code {
	out := make([]Code, 0, len(b.codes))
	for code, pct := range b.codes {
		out = append(out, Code{Code: code, Percent: pct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
