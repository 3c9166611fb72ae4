package commands

import (
	"crypto"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sumup/ucp/ap2"
)

func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree. Output goes to the command's
// configured writers so callers can capture it.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ucpctl",
		Short:         "AP2 key and mandate tooling for the UCP gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(keygenCmd(), mandateCmd(), hashCmd())
	return root
}

// readInput returns the contents of path, or stdin when path is "-" or
// empty.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func loadPrivateKey(path, alg string) (ap2.Algorithm, crypto.Signer, error) {
	algorithm, err := ap2.ParseAlgorithm(alg)
	if err != nil {
		return "", nil, err
	}
	if path == "" {
		return "", nil, fmt.Errorf("--key is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	key, err := ap2.ParsePrivateKey(algorithm, data)
	if err != nil {
		return "", nil, err
	}
	return algorithm, key, nil
}

// envEscape renders a PEM block on one line, the form the gateway accepts in
// environment variables.
func envEscape(pemData []byte) string {
	return strings.ReplaceAll(strings.TrimSpace(string(pemData)), "\n", `\n`)
}
