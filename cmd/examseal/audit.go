package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"examseal/core/audit"
	"examseal/core/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the JSONL audit log",
}

var auditDigestCmd = &cobra.Command{
	Use:   "digest [path]",
	Short: "Print the Merkle root over the audit log lines",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			path = cfg.AuditLogPath
		}
		if path == "" {
			return errors.New("no audit log: pass a path or set AUDIT_LOG_PATH")
		}
		root, n, err := audit.LogDigest(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d events\n", root, n)
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditDigestCmd)
	rootCmd.AddCommand(auditCmd)
}
