package passgen

import (
	"strings"
	"unicode/utf8"
)

// Strength labels.
const (
	LabelWeak       = "Weak"
	LabelMedium     = "Medium"
	LabelStrong     = "Strong"
	LabelVeryStrong = "Very Strong"
)

// MaxScore is the highest value StrengthScore returns.
const MaxScore = 4

// StrengthScore awards one point each for a length of at least 8, a length
// of at least 12, an ASCII upper-case letter, an ASCII lower-case letter, a
// digit, and a symbol from the generator's symbol set. The total is capped at MaxScore.
func StrengthScore(password string) int {
	score := 0

	n := utf8.RuneCountInString(password)
	if n >= 8 {
		score++
	}
	if n >= 12 {
		score++
	}

	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(symbolPool, r):
			other = true
		}
	}
	for _, ok := range []bool{upper, lower, digit, other} {
		if ok {
			score++
		}
	}

	return min(score, MaxScore)
}

// StrengthLabel names a score.
func StrengthLabel(score int) string {
	switch {
	case score <= 1:
		return LabelWeak
	case score == 2:
		return LabelMedium
	case score == 3:
		return LabelStrong
	default:
		return LabelVeryStrong
	}
}
