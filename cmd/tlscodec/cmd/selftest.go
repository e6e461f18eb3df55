package cmd

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/tlscodec/tlscodec"
	"github.com/TheusHen/tlscodec/tlscodec/identity"
	"github.com/TheusHen/tlscodec/tlscodec/metrics"
	"github.com/TheusHen/tlscodec/tlscodec/record"
	"github.com/TheusHen/tlscodec/tlscodec/tlsctx"
	"github.com/TheusHen/tlscodec/tlscodec/transfer"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run a client/server codec pair over an in-memory link",
	Long: `Run a full handshake between a client and a server codec built from the
configured TLS settings, then move a random payload in both directions and
verify it arrives intact.

The client trusts the server by pinning its certificate identity.

Examples:
	  tlscodec selftest
	  tlscodec selftest --size 1048576 --tls-version 1.2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")
		version, _ := cmd.Flags().GetString("tls-version")
		return runSelftest(cmd.OutOrStdout(), size, version)
	},
}

type selftestReport struct {
	Records int
	Bytes   int
	Root    string
}

func runSelftest(w io.Writer, size int, version string) error {
	if size <= 0 {
		return fmt.Errorf("size must be positive, got %d", size)
	}
	serverOpts, err := cfg.TLS.Options()
	if err != nil {
		return err
	}
	if version != "" {
		v, err := tlsctx.ParseVersion(version)
		if err != nil {
			return err
		}
		serverOpts.MinVersion, serverOpts.MaxVersion = v, v
	}
	if serverOpts.CertFile == "" {
		serverOpts.SelfSigned = true
	}

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
	}
	engineOpts := tlscodec.EngineOptions{Logger: logger, Metrics: m}

	server, err := tlscodec.NewEngineFromOptions(serverOpts, engineOpts)
	if err != nil {
		return fmt.Errorf("server engine: %w", err)
	}
	serverID, err := leafPeerID(server)
	if err != nil {
		return err
	}
	client, err := tlscodec.NewEngineFromOptions(tlsctx.Options{
		MinVersion:         serverOpts.MinVersion,
		MaxVersion:         serverOpts.MaxVersion,
		NextProtos:         serverOpts.NextProtos,
		InsecureSkipVerify: true,
		PinnedPeers:        []identity.PeerID{serverID},
	}, engineOpts)
	if err != nil {
		return fmt.Errorf("client engine: %w", err)
	}

	cc, err := client.NewClientCodec()
	if err != nil {
		return err
	}
	sc, err := server.NewServerCodec()
	if err != nil {
		return err
	}
	link := transfer.NewLink(cc, sc)
	defer link.Close()

	if err := link.Handshake(0); err != nil {
		return err
	}
	state := cc.ConnectionState()
	fmt.Fprintf(w, "handshake: %s, %s, server %s\n",
		tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite), serverID)

	for _, dir := range []struct{ from, to transfer.Side }{
		{transfer.ClientSide, transfer.ServerSide},
		{transfer.ServerSide, transfer.ClientSide},
	} {
		rep, err := exchange(link, dir.from, dir.to, size)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s -> %s: %d bytes in %d records, digest %s verified\n",
			dir.from, dir.to, rep.Bytes, rep.Records, rep.Root[:16])
	}

	if reg != nil {
		return printMetrics(w, reg)
	}
	return nil
}

func exchange(link *transfer.Link, from, to transfer.Side, size int) (selftestReport, error) {
	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		return selftestReport{}, err
	}
	digest := transfer.NewDigest(payload)
	if err := link.Send(from, payload); err != nil {
		return selftestReport{}, err
	}

	// Count the records on the wire before delivering them.
	wire := link.Take(to)
	records := 0
	sc := record.NewScanner(wire)
	for sc.Next() {
		records++
	}
	if err := sc.Err(); err != nil {
		return selftestReport{}, err
	}
	link.Deliver(to, wire)

	got := make([]byte, 0, size)
	buf := make([]byte, 64*1024)
	for len(got) < size {
		n, err := link.Receive(to, buf)
		if err != nil {
			return selftestReport{}, err
		}
		if n == 0 {
			return selftestReport{}, fmt.Errorf("%s side stalled after %d of %d bytes", to, len(got), size)
		}
		got = append(got, buf[:n]...)
	}
	if err := digest.Check(got); err != nil {
		return selftestReport{}, fmt.Errorf("%s side: %w", to, err)
	}
	return selftestReport{Records: records, Bytes: len(got), Root: digest.RootHex()}, nil
}

func leafPeerID(e *tlscodec.Engine) (identity.PeerID, error) {
	certs := e.Config().Certificates
	if len(certs) == 0 || len(certs[0].Certificate) == 0 {
		return identity.PeerID{}, fmt.Errorf("server has no certificate")
	}
	leaf, err := x509.ParseCertificate(certs[0].Certificate[0])
	if err != nil {
		return identity.PeerID{}, err
	}
	return identity.PeerIDFromCertificate(leaf), nil
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, f := range families {
		for _, m := range f.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Fprintf(w, "%s{%s} %g\n", f.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(selftestCmd)
	selftestCmd.Flags().Int("size", 256*1024, "Payload size in bytes sent in each direction")
	selftestCmd.Flags().String("tls-version", "", "Pin the protocol version (1.2 or 1.3)")
}
