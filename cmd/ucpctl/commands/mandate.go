package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sumup/ucp/ap2"
)

func mandateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mandate",
		Short: "Sign and inspect AP2 mandates",
	}
	cmd.AddCommand(mandateCheckoutCmd(), mandatePaymentCmd(), mandateDecodeCmd())
	return cmd
}

type signerFlags struct {
	keyPath  string
	alg      string
	maxAge   time.Duration
	issuer   string
	audience string
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.keyPath, "key", "", "PEM private key file")
	cmd.Flags().StringVar(&f.alg, "alg", string(ap2.ES256), "signing algorithm (RS256 or ES256)")
	cmd.Flags().DurationVar(&f.maxAge, "max-age", ap2.DefaultMandateMaxAge, "mandate lifetime")
	cmd.Flags().StringVar(&f.issuer, "iss", "", "issuer claim")
	cmd.Flags().StringVar(&f.audience, "aud", "", "audience claim")
}

func (f *signerFlags) signer() (*ap2.Signer, error) {
	alg, key, err := loadPrivateKey(f.keyPath, f.alg)
	if err != nil {
		return nil, err
	}
	opts := []ap2.SignerOption{ap2.WithMaxAge(f.maxAge)}
	if f.issuer != "" {
		opts = append(opts, ap2.WithIssuer(f.issuer))
	}
	if f.audience != "" {
		opts = append(opts, ap2.WithAudience(f.audience))
	}
	return ap2.NewSigner(alg, key, opts...)
}

func mandateCheckoutCmd() *cobra.Command {
	var (
		flags     signerFlags
		hash      string
		sessionID string
		nonce     string
		from      string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Sign a checkout mandate as the platform",
		Long: "Sign a checkout mandate binding a checkout hash, session id and nonce.\n" +
			"With --from, the three values are read from the merchant's checkout_signature.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" {
				m, err := ap2.DecodeMandate(strings.TrimSpace(from))
				if err != nil {
					return err
				}
				var attested ap2.CheckoutClaims
				if err := m.Claims(&attested); err != nil {
					return err
				}
				hash, sessionID, nonce = attested.CheckoutHash, attested.SessionID, attested.Nonce
			}
			if hash == "" || sessionID == "" || nonce == "" {
				return errors.New("--hash, --session and --nonce are required unless --from is given")
			}
			signer, err := flags.signer()
			if err != nil {
				return err
			}
			token, err := signer.IssueCheckoutMandate(hash, sessionID, nonce)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&hash, "hash", "", "checkout state hash")
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id")
	cmd.Flags().StringVar(&nonce, "nonce", "", "checkout nonce")
	cmd.Flags().StringVar(&from, "from", "", "merchant checkout_signature to copy hash, session and nonce from")
	return cmd
}

func mandatePaymentCmd() *cobra.Command {
	var (
		flags     signerFlags
		sessionID string
		amount    int64
		currency  string
		method    string
	)
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Sign a payment mandate as the payment processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := flags.signer()
			if err != nil {
				return err
			}
			claims := ap2.PaymentClaims{
				CheckoutSessionID: sessionID,
				Currency:          strings.ToUpper(currency),
				PaymentMethod:     method,
			}
			if cmd.Flags().Changed("amount") {
				claims.Amount = &amount
			}
			token, err := signer.IssuePaymentMandate(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "authorized amount in minor units")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency")
	cmd.Flags().StringVar(&method, "method", "", "payment method")
	return cmd
}

func mandateDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print a mandate's header and claims without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ap2.DecodeMandate(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			var claims map[string]any
			if err := m.Claims(&claims); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"header": m.Header,
				"claims": claims,
			})
		},
	}
}
