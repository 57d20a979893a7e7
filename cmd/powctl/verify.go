package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bardlex/lifpow/internal/genesis"
	"github.com/bardlex/lifpow/pkg/errors"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [network...]",
		Short: "Rebuild genesis blocks and compare them with their references",
		Long: `Assemble each network's genesis block from its parameters, hash it with
the network's pipeline and compare block bytes and hash with the recorded
reference. Exits non-zero if any check fails.

Examples:
  powctl verify lif
  powctl verify --all --experimental`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New(errors.ErrorTypeValidation, "verify", "name networks or pass --all, not both")
			}

			registry, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			verifier := genesis.NewVerifier(registry, opts.logger(cmd))
			out := cmd.OutOrStdout()

			if all {
				reports, err := verifier.VerifyAll()
				for _, r := range reports {
					printReport(out, r)
				}
				return err
			}

			var failed []string
			for _, id := range args {
				r, err := verifier.VerifyGenesis(id)
				if err != nil {
					return err
				}
				printReport(out, r)
				if !r.OK() {
					failed = append(failed, id)
				}
			}
			if len(failed) > 0 {
				return errors.New(errors.ErrorTypeConfiguration, "verify", "genesis verification failed").
					WithContext("networks", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "verify every bound network")
	return cmd
}

func printReport(w io.Writer, r *genesis.Report) {
	status := "OK"
	if !r.OK() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%-8s %-10s %s %s\n", r.Network, r.Pipeline, r.Hash, status)
	for _, d := range r.Discrepancies {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
