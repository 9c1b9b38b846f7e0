package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/passgen"
)

const clipboardClearDelay = 30 * time.Second

// clipboard seams for tests
var (
	clipboardWrite = clipboard.WriteAll
	clipboardRead  = clipboard.ReadAll
	afterFunc      = time.AfterFunc
)

type App struct {
	gen *passgen.Generator
	out io.Writer

	mu     sync.Mutex
	copied string
	timer  *time.Timer
}

func NewApp(b passgen.Bounds, out io.Writer) *App {
	return &App{gen: passgen.NewGenerator(b), out: out}
}

// Root runs the REPL on stdin.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "passkeeper generator (type 'help' for commands)")
	runREPL(ctx, a, bufio.NewScanner(os.Stdin), a.out)
	a.Close()
}

// Close clears a pending clipboard copy right away.
func (a *App) Close() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.clearClipboard()
}

// clearClipboard empties the clipboard only while it still holds the
// password this app copied.
func (a *App) clearClipboard() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.copied == "" {
		return
	}
	copied := a.copied
	a.copied = ""

	current, err := clipboardRead()
	if err != nil || current != copied {
		return
	}
	_ = clipboardWrite("")
}

// Generate parses generator flags and prints the passwords with their strength.
// With no class flags all four classes are used.
func (a *App) Generate(ctx context.Context, args []string) error {
	b := a.gen.Bounds()

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(a.out)
	length := fs.Int("length", 16, fmt.Sprintf("password length (%d-%d)", b.MinLength, b.MaxLength))
	count := fs.Int("count", 1, fmt.Sprintf("number of passwords (1-%d)", b.MaxCount))
	upper := fs.Bool("upper", false, "include uppercase letters")
	lower := fs.Bool("lower", false, "include lowercase letters")
	digits := fs.Bool("digits", false, "include digits")
	symbols := fs.Bool("symbols", false, "include symbols")
	noSimilar := fs.Bool("no-similar", false, "exclude look-alike characters")
	copyFirst := fs.Bool("copy", false, "copy the first password to the clipboard")

	if err := fs.Parse(args); err != nil {
		return err
	}

	p := passgen.Policy{
		Length:         *length,
		Count:          *count,
		Uppercase:      *upper,
		Lowercase:      *lower,
		Digits:         *digits,
		Symbols:        *symbols,
		ExcludeSimilar: *noSimilar,
	}
	if !p.Uppercase && !p.Lowercase && !p.Digits && !p.Symbols {
		p.Uppercase, p.Lowercase, p.Digits, p.Symbols = true, true, true, true
	}

	passwords, err := a.gen.Generate(p)
	if err != nil {
		return err
	}

	for _, pw := range passwords {
		score := passgen.StrengthScore(pw)
		fmt.Fprintf(a.out, "%s  [%s %d/%d]\n", pw, passgen.StrengthLabel(score), score, passgen.MaxScore)
	}

	if *copyFirst && len(passwords) > 0 {
		if err := clipboardWrite(passwords[0]); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintf(a.out, "Copied to clipboard. Clearing in %s...\n", clipboardClearDelay)

		a.mu.Lock()
		if a.timer != nil {
			a.timer.Stop()
		}
		a.copied = passwords[0]
		a.timer = afterFunc(clipboardClearDelay, a.clearClipboard)
		a.mu.Unlock()
	}

	return nil
}

// Check reads a password without echo and prints its strength.
func (a *App) Check(ctx context.Context) error {
	pw, err := GetPassword(a.out, "Password to check: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	score := passgen.StrengthScore(string(pw))
	fmt.Fprintf(a.out, "Strength: %s (%d/%d)\n", passgen.StrengthLabel(score), score, passgen.MaxScore)
	return nil
}
