// Package flagx holds small helpers for parsing a subset of command-line
// flags without clashing with flags owned by other parts of the binary.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs returns only the allowed flags (and their values) from args.
//
// Both "-c conf.json" and "-config=conf.json" forms are recognized. A token
// that starts with "-" is never consumed as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// BootstrapFlags are the flags read before the full configuration is built:
// where the JSON config lives and which dotenv file to load.
type BootstrapFlags struct {
	ConfigFile string
	EnvFile    string
}

// ParseBootstrap extracts -c/-config and -env-file from args. Everything else
// is ignored.
func ParseBootstrap(args []string) BootstrapFlags {
	var b BootstrapFlags

	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&b.ConfigFile, "config", "", "path to JSON config file")
	fs.StringVar(&b.ConfigFile, "c", "", "path to JSON config file (short)")
	fs.StringVar(&b.EnvFile, "env-file", "", "path to dotenv file")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "-env-file"}))

	return b
}
