// Command license-issuer creates signing keys and signed license artifacts.
//
//	license-issuer genkey -out keys/
//	license-issuer issue -key keys/private_key.pem -machine-id ID \
//	    -start 01-01-2024 -end 31-12-2024 -region Asia/Kolkata -out license.lic
//
// The machine id of a target host is served by the backend at /api/machine-id.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "time/tzdata"

	"staffsched/internal/licensefile"
)

const usage = "usage: license-issuer <genkey|issue> [flags]"

var errUsage = errors.New(usage)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(_ context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 1
	}

	var err error
	switch args[0] {
	case "genkey":
		err = genKey(args[1:], stdout, stderr)
	case "issue":
		err = issue(args[1:], stdout, stderr)
	default:
		err = errUsage
	}

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}
	return 0
}

func genKey(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", ".", "directory for private_key.pem and public_key.pem")
	force := fs.Bool("force", false, "overwrite existing keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privPEM, err := licensefile.EncodePrivateKey(priv)
	if err != nil {
		return err
	}
	pubPEM, err := licensefile.EncodePublicKey(pub)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*out, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	privPath := filepath.Join(*out, "private_key.pem")
	pubPath := filepath.Join(*out, "public_key.pem")
	if err := writeFile(privPath, privPEM, 0o600, *force); err != nil {
		return err
	}
	if err := writeFile(pubPath, pubPEM, 0o644, *force); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "wrote %s\nwrote %s\n", privPath, pubPath)
	return nil
}

func issue(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyPath := fs.String("key", "private_key.pem", "PEM encoded Ed25519 private key")
	machineID := fs.String("machine-id", "", "machine the license is bound to")
	start := fs.String("start", "", "first valid day, dd-MM-yyyy")
	end := fs.String("end", "", "last valid day, dd-MM-yyyy")
	region := fs.String("region", "Asia/Kolkata", "IANA time zone the window is evaluated in")
	out := fs.String("out", "license.lic", "artifact output path")
	force := fs.Bool("force", false, "overwrite an existing artifact")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data := licensefile.Data{
		MachineID: *machineID,
		StartDate: *start,
		EndDate:   *end,
		Region:    *region,
	}
	if err := validateData(data); err != nil {
		return err
	}

	keyPEM, err := os.ReadFile(*keyPath)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	priv, err := licensefile.ParsePrivateKey(keyPEM)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	artifact, err := licensefile.Sign(priv, data)
	if err != nil {
		return err
	}
	if err := writeFile(*out, artifact, 0o644, *force); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "issued %s for %s (%s to %s, %s)\n", *out, data.MachineID, data.StartDate, data.EndDate, data.Region)
	return nil
}

func validateData(data licensefile.Data) error {
	if data.MachineID == "" {
		return errors.New("-machine-id is required")
	}
	loc, err := time.LoadLocation(data.Region)
	if err != nil || data.Region == "" {
		return fmt.Errorf("-region %q is not an IANA time zone", data.Region)
	}
	startDay, err := time.ParseInLocation(licensefile.DateLayout, data.StartDate, loc)
	if err != nil {
		return fmt.Errorf("-start %q must be dd-MM-yyyy", data.StartDate)
	}
	endDay, err := time.ParseInLocation(licensefile.DateLayout, data.EndDate, loc)
	if err != nil {
		return fmt.Errorf("-end %q must be dd-MM-yyyy", data.EndDate)
	}
	if endDay.Before(startDay) {
		return fmt.Errorf("-end %s is before -start %s", data.EndDate, data.StartDate)
	}
	return nil
}

func writeFile(path string, data []byte, perm os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
