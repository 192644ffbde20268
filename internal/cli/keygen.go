package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Daironode/aingle-sub000/internal/keys"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Out string
}

// KeygenResult is the output of keygen.
type KeygenResult struct {
	Path     string `json:"path"`
	AgentKey string `json:"agent_key"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the node's signing key",
		Long: `Generate an ed25519 key for signing validation receipts.

The key is written to --out, or to key_file from the config. An existing
key is never overwritten.

Example:
  aingle keygen
  aingle keygen --out ./node.key --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "key file path (overrides config)")
	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	node := &NodeOptions{RootOptions: opts.RootOptions}
	cfg, err := node.loadConfig()
	if err != nil {
		return err
	}
	path := cfg.KeyFile
	if opts.Out != "" {
		path = opts.Out
	}

	if _, err := os.Stat(path); err == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("key file already exists: %s", path))
	}

	signer, err := keys.LoadOrGenerate(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to generate key", err)
	}

	res := KeygenResult{Path: path, AgentKey: string(signer.AgentKey())}
	return newFormatter(cmd, opts.RootOptions).Success(res,
		fmt.Sprintf("Wrote %s", path),
		fmt.Sprintf("Agent key: %s", res.AgentKey))
}
