package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheusHen/tlscodec/tlscodec/record"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "List the TLS records in a captured byte stream",
	Long: `Walk a captured stream of TLS records and print one line per frame:
content type, protocol version and length. Nothing is decrypted.

The first bytes are also classified the way a server deciding between TLS and
plaintext peers would see them. Reads stdin when no file is given.

Examples:
	  tlscodec inspect capture.bin
	  xxd -p capture.bin | tlscodec inspect --hex`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		isHex, _ := cmd.Flags().GetBool("hex")
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		if isHex {
			data, err = hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
			if err != nil {
				return fmt.Errorf("decode hex input: %w", err)
			}
		}
		return runInspect(cmd.OutOrStdout(), data)
	},
}

func runInspect(w io.Writer, data []byte) error {
	prefix := data
	if len(prefix) > record.SnoopBytes {
		prefix = prefix[:record.SnoopBytes]
	}
	snoop := record.Snoop(prefix)
	fmt.Fprintf(w, "first bytes: %s\n", snoop)
	if snoop == record.NotTLS {
		return nil
	}

	sc := record.NewScanner(data)
	offset := 0
	for sc.Next() {
		h := sc.Header()
		fmt.Fprintf(w, "%8d  %-18s %-8s %5d\n", offset, h.Type, h.VersionName(), h.Length)
		offset += h.FrameSize()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("at offset %d: %w", offset, err)
	}
	if rest := sc.Remaining(); len(rest) > 0 {
		missing, err := record.Missing(rest)
		if err != nil {
			return fmt.Errorf("at offset %d: %w", offset, err)
		}
		fmt.Fprintf(w, "%8d  incomplete frame, %d bytes present, %d missing\n", offset, len(rest), missing)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("hex", false, "Input is hex encoded")
}
