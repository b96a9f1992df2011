// Command license-verifier checks a signed license artifact against a public
// key and this machine's identity, and prints the verdict as one JSON line.
//
//	license-verifier [-machine-id ID] <public_key.pem> <license.lic>
//
// A verdict, valid or not, exits 0. Usage and file errors go to stderr with
// exit status 1.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	_ "time/tzdata"

	"staffsched/internal/licensefile"
	"staffsched/internal/security"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, time.Now))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, now func() time.Time) int {
	fs := flag.NewFlagSet("license-verifier", flag.ContinueOnError)
	fs.SetOutput(stderr)
	machineID := fs.String("machine-id", "", "machine identity to check against (detected when empty)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: license-verifier [-machine-id ID] <public_key.pem> <license.lic>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return 1
	}

	publicKey, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "read public key: %v\n", err)
		return 1
	}
	artifact, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "read license: %v\n", err)
		return 1
	}

	id := *machineID
	if id == "" {
		// Diagnostics stay off stdout, which carries only the verdict
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		id = security.NewFingerprintManager(security.WithLogger(logger)).Identify(ctx)
	}

	verdict := licensefile.Verify(publicKey, artifact, id, now())
	if err := json.NewEncoder(stdout).Encode(verdict); err != nil {
		fmt.Fprintf(stderr, "write verdict: %v\n", err)
		return 1
	}
	return 0
}
