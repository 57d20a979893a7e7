package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
)

func newDifficultyCmd() *cobra.Command {
	var fromDifficulty float64

	cmd := &cobra.Command{
		Use:   "difficulty [bits]",
		Short: "Convert between compact bits, targets and difficulty",
		Long: `Print the target and difficulty of compact bits given in hex, or with
--from the target and compact bits of a difficulty.

Examples:
  powctl difficulty 1d00ffff
  powctl difficulty --from 1024`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if cmd.Flags().Changed("from") {
				if len(args) > 0 {
					return errors.New(errors.ErrorTypeValidation, "difficulty", "pass bits or --from, not both")
				}
				target := pow.DifficultyToTarget(fromDifficulty)
				fmt.Fprintf(out, "target:     %s\n", target)
				fmt.Fprintf(out, "bits:       %08x\n", pow.TargetToCompact(target))
				return nil
			}

			if len(args) == 0 {
				return errors.New(errors.ErrorTypeValidation, "difficulty", "compact bits required")
			}
			bits, err := parseBits(args[0])
			if err != nil {
				return err
			}
			target, err := pow.ParseCompact(bits)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "bits:       %08x\n", bits)
			fmt.Fprintf(out, "target:     %s\n", target)
			fmt.Fprintf(out, "difficulty: %s\n", formatDifficulty(pow.DifficultyRatio(bits)))
			return nil
		},
	}
	cmd.Flags().Float64Var(&fromDifficulty, "from", 0, "convert this difficulty instead")
	return cmd
}

func parseBits(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeValidation, "parse_bits", "bits must be 8 hex digits").
			WithContext("bits", s)
	}
	return uint32(v), nil
}

func formatDifficulty(d float64) string {
	if math.IsInf(d, 1) {
		return "unreachable"
	}
	return strconv.FormatFloat(d, 'g', 10, 64)
}

func newHashCmd(opts *rootOptions) *cobra.Command {
	var (
		pipelineName string
		networkID    string
	)

	cmd := &cobra.Command{
		Use:   "hash <header-hex>",
		Short: "Hash an 80-byte header with a pipeline",
		Long: `Hash a serialized header with a named pipeline, or with the pipeline bound
to --network, and report whether the digest meets the header's own bits.

Examples:
  powctl hash --network lif 0100...
  powctl hash --pipeline sha256lif 0100...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, err := pow.ParseHeaderHex(args[0])
			if err != nil {
				return err
			}

			var p hashing.Pipeline
			switch {
			case pipelineName != "" && networkID != "":
				return errors.New(errors.ErrorTypeValidation, "hash", "pass --pipeline or --network, not both")
			case networkID != "":
				registry, err := opts.registry(cmd)
				if err != nil {
					return err
				}
				if p, err = registry.Pipeline(networkID); err != nil {
					return err
				}
			default:
				name := hashing.Name(pipelineName)
				if name == "" {
					name = hashing.SHA256d
				}
				if p, err = hashing.Lookup(name); err != nil {
					return err
				}
			}

			digest := p.Func(header[:])
			target := header.Target()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pipeline:     %s\n", p.Name)
			fmt.Fprintf(out, "hash:         %s\n", digest)
			fmt.Fprintf(out, "target:       %s\n", target)
			fmt.Fprintf(out, "meets target: %t\n", pow.HashMeetsTarget(digest, target))
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelineName, "pipeline", "", "pipeline name (default sha256d)")
	cmd.Flags().StringVar(&networkID, "network", "", "use the pipeline bound to this network")
	return cmd
}

func newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List supported networks and their pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %-10s %-8s %-12s %s\n", "NETWORK", "PIPELINE", "BITS", "EXPERIMENTAL", "GENESIS")
			for _, p := range network.All() {
				fmt.Fprintf(out, "%-8s %-10s %08x %-12t %s\n",
					p.ID, p.Pipeline, p.Genesis.Bits, p.Experimental, p.Reference.Hash)
			}
			return nil
		},
	}
}
