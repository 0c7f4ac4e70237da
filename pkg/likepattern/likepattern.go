// Package likepattern implements the SQL LIKE wildcard language used by
// product and version filters.
//
// Two metacharacters are recognised: '%' matches any run of characters
// (including none) and '_' matches exactly one character. There is no
// escape character. Letters are compared case-insensitively for ASCII only,
// which mirrors the default behaviour of SQLite's LIKE operator.
package likepattern

// Any matches every input.
const Any = "%"

// Matcher reports whether a value satisfies a filter.
type Matcher interface {
	Match(s string) bool
	String() string
}

// Pattern is a compiled LIKE expression.
type Pattern struct {
	raw   string
	runes []rune
	// literal is true when the pattern has no wildcards.
	literal bool
}

// Compile prepares a pattern for repeated matching. Every string is a valid
// pattern, so Compile never fails.
func Compile(pattern string) Pattern {
	runes := []rune(pattern)
	literal := true
	for _, r := range runes {
		if r == '%' || r == '_' {
			literal = false
			break
		}
	}
	return Pattern{raw: pattern, runes: runes, literal: literal}
}

// Match reports whether s satisfies the pattern.
func (p Pattern) Match(s string) bool {
	if p.literal {
		return equalFold(p.raw, s)
	}
	return match(p.runes, []rune(s))
}

// String returns the source pattern.
func (p Pattern) String() string { return p.raw }

// Match is a convenience wrapper around Compile(pattern).Match(s).
func Match(pattern, s string) bool {
	return Compile(pattern).Match(s)
}

// exact matches one value verbatim, wildcard characters included.
type exact string

// Exact returns a Matcher that compares s case-sensitively and treats '%'
// and '_' as ordinary characters. The product identifier uses it to score
// exactly one product name.
func Exact(s string) Matcher { return exact(s) }

func (e exact) Match(s string) bool { return string(e) == s }
func (e exact) String() string      { return string(e) }

// match is the classic iterative wildcard algorithm: on a mismatch after a
// '%', backtrack to the last star and let it absorb one more character.
func match(pattern, s []rune) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '%':
			star = p
			mark = i
			p++
		case p < len(pattern) && (pattern[p] == '_' || foldRune(pattern[p]) == foldRune(s[i])):
			p++
			i++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '%' {
		p++
	}
	return p == len(pattern)
}

func equalFold(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) {
		return false
	}
	for i := range ra {
		if foldRune(ra[i]) != foldRune(rb[i]) {
			return false
		}
	}
	return true
}

func foldRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
