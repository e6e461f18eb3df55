package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheusHen/tlscodec/tlscodec/identity"
	"github.com/TheusHen/tlscodec/tlscodec/tlsctx"
)

var gencertCmd = &cobra.Command{
	Use:   "gencert",
	Short: "Generate a self-signed Ed25519 certificate",
	Long: `Generate a self-signed Ed25519 certificate and key as PEM files and print
the PeerID other codecs can pin it by.

With --seed the key is taken from a 32-byte hex seed, and with --secret it is
derived from a shared secret and the common name, so the same PeerID can be
regenerated later.

Examples:
	  tlscodec gencert --out ./certs --cn node-1
	  tlscodec gencert --seed $(openssl rand -hex 32)
	  tlscodec gencert --secret "$CLUSTER_SECRET" --cn node-2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		cn, _ := cmd.Flags().GetString("cn")
		seed, _ := cmd.Flags().GetString("seed")
		secret, _ := cmd.Flags().GetString("secret")
		validity, _ := cmd.Flags().GetDuration("validity")
		kp, err := gencertKeyPair(seed, secret, cn)
		if err != nil {
			return err
		}
		return runGencert(cmd.OutOrStdout(), out, cn, kp, validity)
	},
}

func gencertKeyPair(seedHex, secret, cn string) (identity.KeyPair, error) {
	switch {
	case seedHex != "" && secret != "":
		return identity.KeyPair{}, fmt.Errorf("--seed and --secret are mutually exclusive")
	case seedHex != "":
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return identity.KeyPair{}, fmt.Errorf("invalid seed: %w", err)
		}
		return identity.KeyPairFromSeed(seed)
	case secret != "":
		return identity.DeriveKeyPair([]byte(secret), cn)
	default:
		return identity.GenerateKeyPair()
	}
}

func runGencert(w io.Writer, dir, cn string, kp identity.KeyPair, validity time.Duration) error {
	certPEM, keyPEM, err := tlsctx.SelfSignedPEM(kp, cn, validity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return err
	}

	fmt.Fprintf(w, "certificate: %s\n", certFile)
	fmt.Fprintf(w, "key:         %s\n", keyFile)
	fmt.Fprintf(w, "peer id:     %s\n", kp.PeerID())
	return nil
}

func init() {
	rootCmd.AddCommand(gencertCmd)
	gencertCmd.Flags().StringP("out", "o", ".", "Directory to write cert.pem and key.pem to")
	gencertCmd.Flags().String("cn", tlsctx.DefaultCommonName, "Certificate common name and DNS name")
	gencertCmd.Flags().String("seed", "", "Hex Ed25519 seed (32 bytes); random when empty")
	gencertCmd.Flags().String("secret", "", "Derive the key from this shared secret and the common name")
	gencertCmd.Flags().Duration("validity", 365*24*time.Hour, "Certificate validity")
}
