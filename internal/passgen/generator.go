// Package passgen generates random passwords from a character-class policy
// and scores password strength.
package passgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	upperPool   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerPool   = "abcdefghijklmnopqrstuvwxyz"
	digitPool   = "0123456789"
	symbolPool  = "!@#$%^&*()-_=+[]{}|;:,.<>?/"
	similarRune = "0Oo1lIi"
)

// Bound defaults.
const (
	DefaultMinLength = 8
	DefaultMaxLength = 64
	DefaultMaxCount  = 10
)

// Policy selects which character classes a generated password contains.
type Policy struct {
	Length         int
	Count          int
	Uppercase      bool
	Lowercase      bool
	Digits         bool
	Symbols        bool
	ExcludeSimilar bool
}

// Bounds limit the length and count a caller may request.
type Bounds struct {
	MinLength int
	MaxLength int
	MaxCount  int
}

// DefaultBounds returns 8..64 characters and up to 10 passwords per call.
func DefaultBounds() Bounds {
	return Bounds{MinLength: DefaultMinLength, MaxLength: DefaultMaxLength, MaxCount: DefaultMaxCount}
}

// Generator draws passwords from crypto/rand.
type Generator struct {
	bounds Bounds
	rand   io.Reader
}

// NewGenerator returns a generator enforcing b. Nonsensical bounds are
// repaired: the minimum length is at least 4 so every class fits, the maximum
// is never below the minimum, and at least one password is produced.
func NewGenerator(b Bounds) *Generator {
	if b.MinLength < 4 {
		b.MinLength = 4
	}
	if b.MaxLength < b.MinLength {
		b.MaxLength = b.MinLength
	}
	if b.MaxCount < 1 {
		b.MaxCount = 1
	}
	return &Generator{bounds: b, rand: rand.Reader}
}

// Bounds reports the effective bounds.
func (g *Generator) Bounds() Bounds {
	return g.bounds
}

// Generate returns Count passwords of Length characters, both clamped to the
// generator's bounds. Each password holds at least one character of every
// selected class; with no class selected it falls back to lowercase.
func (g *Generator) Generate(p Policy) ([]string, error) {
	length := clamp(p.Length, g.bounds.MinLength, g.bounds.MaxLength)
	count := clamp(p.Count, 1, g.bounds.MaxCount)
	classes := p.classes()

	out := make([]string, 0, count)
	for range count {
		pw, err := g.one(classes, length)
		if err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	return out, nil
}

func (g *Generator) one(classes []string, length int) (string, error) {
	pool := strings.Join(classes, "")

	buf := make([]byte, 0, length)
	for _, class := range classes {
		c, err := g.pick(class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := g.pick(pool)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Fisher-Yates
	for i := len(buf) - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func (g *Generator) pick(pool string) (byte, error) {
	i, err := g.intn(len(pool))
	if err != nil {
		return 0, err
	}
	return pool[i], nil
}

func (g *Generator) intn(n int) (int, error) {
	v, err := rand.Int(g.rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random source: %w", err)
	}
	return int(v.Int64()), nil
}

// classes returns one pool per selected class, in a fixed order.
func (p Policy) classes() []string {
	var classes []string
	add := func(selected bool, pool string) {
		if !selected {
			return
		}
		if p.ExcludeSimilar {
			pool = stripSimilar(pool)
		}
		classes = append(classes, pool)
	}

	add(p.Uppercase, upperPool)
	add(p.Lowercase, lowerPool)
	add(p.Digits, digitPool)
	add(p.Symbols, symbolPool)

	if len(classes) == 0 {
		add(true, lowerPool)
	}
	return classes
}

func stripSimilar(pool string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(similarRune, r) {
			return -1
		}
		return r
	}, pool)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
