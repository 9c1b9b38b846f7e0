package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL dispatches to.
type execIface interface {
	Generate(ctx context.Context, args []string) error
	Check(ctx context.Context) error
}

// runREPL reads commands from scanner until EOF, "exit" or "quit".
// Handler errors are reported and the loop continues.
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner, w io.Writer) {
	for {
		fmt.Fprint(w, "pk> ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			fmt.Fprintln(w, "Available commands: (g)enerate [-length N] [-count N] [-upper] [-lower] [-digits] [-symbols] [-no-similar] [-copy], check, exit")
		case "g", "generate":
			err = a.Generate(ctx, args)
		case "check":
			err = a.Check(ctx)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}

		if err != nil {
			fmt.Fprintln(w, "Error:", err)
		}
	}
}
