// Command aingle runs a validating node: it admits ops, validates them in
// dependency order and serves the integrated index.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Daironode/aingle-sub000/internal/cli"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = Version
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
