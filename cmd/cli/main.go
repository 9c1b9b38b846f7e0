package main

import (
	"context"
	"flag"
	"os"

	"github.com/revpass/passkeeper/internal/cli"
	"github.com/revpass/passkeeper/internal/passgen"
)

func main() {

	b := passgen.DefaultBounds()
	flag.IntVar(&b.MinLength, "min", b.MinLength, "minimum password length")
	flag.IntVar(&b.MaxLength, "max", b.MaxLength, "maximum password length")
	flag.IntVar(&b.MaxCount, "max-count", b.MaxCount, "maximum passwords per generate call")
	flag.Parse()

	cli.NewApp(b, os.Stdout).Root(context.Background())

}
