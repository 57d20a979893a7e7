// Package main implements powctl, the operator CLI for checking network
// profiles and working with proof-of-work values offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/pkg/log"
)

var version = "dev"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	logLevel     string
	logFormat    string
	experimental bool
}

func (o *rootOptions) logger(cmd *cobra.Command) *log.Logger {
	return log.NewWithWriter(cmd.ErrOrStderr(), "powctl", version, o.logLevel, o.logFormat)
}

// registry binds every network, including experimental ones when enabled.
func (o *rootOptions) registry(cmd *cobra.Command) (*hashing.Registry, error) {
	return network.NewRegistry(o.logger(cmd), o.experimental)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "powctl",
		Short:         "Proof-of-work tooling for lif and Bitcoin networks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")
	root.PersistentFlags().BoolVar(&opts.experimental, "experimental", false, "bind networks that use experimental pipelines")

	root.AddCommand(
		newVerifyCmd(opts),
		newMineGenesisCmd(opts),
		newDifficultyCmd(),
		newHashCmd(opts),
		newNetworksCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
