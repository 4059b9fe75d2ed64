package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFile string

	rootCmd = &cobra.Command{
		Use:           "examseal",
		Short:         "Exam integrity service: locks question papers and anchors results on a ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", envOr("ENV_FILE", ".env"), "dotenv file merged into the environment")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
