package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/lifpow/internal/genesis"
	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/network"
)

func newMineGenesisCmd(opts *rootOptions) *cobra.Command {
	var (
		startNonce uint32
		timestamp  uint32
		bits       uint32
		workers    int
		batch      uint32
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mine-genesis <network>",
		Short: "Search a nonce for a network's genesis block",
		Long: `Search the nonce space of a network's genesis header, optionally with a
different time or bits, and print the solved block.

Examples:
  powctl mine-genesis lif
  powctl mine-genesis liftest --time 1753572481 --start 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := network.Lookup(args[0])
			if err != nil {
				return err
			}
			registry, err := opts.registry(cmd)
			if err != nil {
				return err
			}
			fn, err := registry.Resolve(profile.ID)
			if err != nil {
				return err
			}

			g := profile.Genesis
			if cmd.Flags().Changed("time") {
				g.Time = timestamp
			}
			if cmd.Flags().Changed("bits") {
				g.Bits = bits
			}

			logger := opts.logger(cmd).WithNetwork(profile.ID)
			coord := mining.NewCoordinator(mining.Config{Workers: workers, BatchSize: batch}, logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			block, res, err := genesis.Mine(ctx, g, fn, coord, startNonce)
			if err != nil {
				return err
			}
			blockHex, err := genesis.Serialize(block)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "network:  %s\n", profile.ID)
			fmt.Fprintf(out, "pipeline: %s\n", profile.Pipeline)
			fmt.Fprintf(out, "time:     %d\n", g.Time)
			fmt.Fprintf(out, "bits:     %08x\n", g.Bits)
			fmt.Fprintf(out, "nonce:    %d\n", res.Nonce)
			fmt.Fprintf(out, "hash:     %s\n", res.Hash)
			fmt.Fprintf(out, "hashes:   %d in %s\n", res.Hashes, res.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "block:    %s\n", blockHex)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&startNonce, "start", 0, "first nonce to try")
	cmd.Flags().Uint32Var(&timestamp, "time", 0, "override the genesis time")
	cmd.Flags().Uint32Var(&bits, "bits", 0, "override the genesis compact bits (0x-prefixed hex)")
	cmd.Flags().IntVar(&workers, "workers", 0, "search goroutines (0 for one per CPU)")
	cmd.Flags().Uint32Var(&batch, "batch", mining.DefaultBatchSize, "nonces per progress report")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 for no limit)")
	return cmd
}
