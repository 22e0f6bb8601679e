package commands

import (
	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-credit-ledger/internal/buildinfo"
)

// NewRootCommand 建立根命令並註冊所有子命令
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ledger",
		Short:   "Credit/debit ledger service with per-client overdraft limits",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
