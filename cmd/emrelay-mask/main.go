// Command emrelay-mask is the offline counterpart to emrelayd: it turns
// a plaintext shared secret into the masked (inner||outer intermediate
// HMAC state) form the secrets file stores for CRAM mechanisms, so an
// operator's plaintext password never has to live on disk or cross the
// wire in an unmasked form (spec.md §3's masking operation).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"zgo.at/emrelay/internal/saslhmac"
	"zgo.at/emrelay/internal/secrets"
)

func main() {
	var (
		side   string
		digest string
		id     string
	)
	flag.StringVar(&side, "side", "server", `secrets-file side: "server" or "client"`)
	flag.StringVar(&digest, "digest", "MD5", "hash function to mask under (MD5, SHA1, SHA256, ...)")
	flag.StringVar(&id, "id", "", "account id this secret belongs to (required for side=server)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-side server|client] [-digest MD5] -id <account>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "reads the shared secret from stdin (or a terminal prompt) and prints\na ready-to-paste secrets file line on stdout.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if side != "server" && side != "client" {
		fmt.Fprintln(os.Stderr, "emrelay-mask: -side must be \"server\" or \"client\"")
		os.Exit(2)
	}
	if side == "server" && id == "" {
		fmt.Fprintln(os.Stderr, "emrelay-mask: -id is required for side=server")
		os.Exit(2)
	}

	secret, err := readSecret()
	if err != nil {
		fmt.Fprintln(os.Stderr, "emrelay-mask:", err)
		os.Exit(1)
	}

	masked, err := saslhmac.Mask(strings.ToUpper(digest), secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "emrelay-mask:", err)
		os.Exit(1)
	}

	typ := "cram-" + strings.ToLower(digest)
	fmt.Println(secrets.FormatLine(side, typ, id, masked))
}

// readSecret reads the plaintext secret to mask: from a non-interactive
// stdin verbatim (one line, trailing newline trimmed), or via a
// echo-off terminal prompt when stdin is a tty, mirroring how arp242's
// own tooling avoids echoing credentials to the terminal.
func readSecret() ([]byte, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "secret: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return secret, nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("reading secret from stdin: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
