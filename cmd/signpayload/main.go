// Command signpayload signs or verifies a webhook body read from stdin, the
// same way subscribers are expected to check X-Webhook-Signature.
//
//	signpayload -secret S < body.json
//	signpayload -secret S -verify SIG < body.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/webhook"
)

var errMismatch = errors.New("signature mismatch")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("signpayload", flag.ContinueOnError)
	secret := fs.String("secret", "", "Webhook signing secret (required)")
	previous := fs.String("previous", "", "Previous secret still inside its rotation grace period")
	verify := fs.String("verify", "", "Signature to check instead of printing one")
	canonical := fs.Bool("canonical", false, "Compact the JSON body before signing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *secret == "" {
		return errors.New("-secret is required")
	}

	body, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if *canonical {
		body, err = webhook.Canonicalize(json.RawMessage(body))
		if err != nil {
			return err
		}
	}

	if *verify == "" {
		_, err := fmt.Fprintln(stdout, webhook.Sign(*secret, body))
		return err
	}

	if !webhook.VerifyAny([]string{*secret, *previous}, body, *verify) {
		return errMismatch
	}
	_, err = fmt.Fprintln(stdout, "ok")
	return err
}
