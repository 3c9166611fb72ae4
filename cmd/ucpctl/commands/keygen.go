package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sumup/ucp/ap2"
)

func keygenCmd() *cobra.Command {
	var (
		alg    string
		outDir string
		name   string
		env    bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a mandate signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			algorithm, err := ap2.ParseAlgorithm(alg)
			if err != nil {
				return err
			}
			key, err := ap2.GenerateKey(algorithm, nil)
			if err != nil {
				return err
			}
			priv, err := ap2.EncodePrivateKeyPEM(key)
			if err != nil {
				return err
			}
			pub, err := ap2.EncodePublicKeyPEM(key.Public())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o700); err != nil {
					return err
				}
				privPath := filepath.Join(outDir, name+"_private.pem")
				pubPath := filepath.Join(outDir, name+"_public.pem")
				if err := os.WriteFile(privPath, priv, 0o600); err != nil {
					return err
				}
				if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s and %s\n", privPath, pubPath)
				return nil
			}
			if env {
				fmt.Fprintf(out, "AP2_SIGNING_ALG=%s\n", algorithm)
				fmt.Fprintf(out, "AP2_SIGNING_PRIVATE_KEY_PEM=\"%s\"\n", envEscape(priv))
				fmt.Fprintf(out, "AP2_SIGNING_PUBLIC_KEY_PEM=\"%s\"\n", envEscape(pub))
				return nil
			}
			fmt.Fprint(out, string(priv))
			fmt.Fprint(out, string(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&alg, "alg", string(ap2.ES256), "signing algorithm (RS256 or ES256)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write <name>_private.pem and <name>_public.pem into this directory")
	cmd.Flags().StringVar(&name, "name", "merchant", "file name prefix used with --out")
	cmd.Flags().BoolVar(&env, "env", false, "print gateway environment variables instead of PEM blocks")
	return cmd
}
