package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"examseal/core/fingerprint"
	"examseal/core/seed"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute fingerprints offline",
}

var hashContentFile string

var hashContentCmd = &cobra.Command{
	Use:   "content",
	Short: "Print the content fingerprint of every exam in a YAML fixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.ReadFile(hashContentFile)
		if err != nil {
			return err
		}
		for _, e := range f.Exams {
			fp, err := fingerprint.Content(e.Items())
			if err != nil {
				return fmt.Errorf("exam %d: %w", e.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t0x%s\n", e.ID, e.Name, fp)
		}
		return nil
	},
}

var (
	hashSubject     int64
	hashPrincipal   int64
	hashScore       int
	hashCompletedAt string
)

var hashOutcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Print the outcome fingerprint for a subject, principal, score and completion time",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := time.Parse(time.RFC3339Nano, hashCompletedAt)
		if err != nil {
			return fmt.Errorf("--completed-at: %w", err)
		}
		fp, err := fingerprint.Outcome(hashSubject, hashPrincipal, hashScore, at)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "outcome    0x%s\n", fp)
		fmt.Fprintf(out, "principal  0x%s\n", fingerprint.Principal(hashPrincipal))
		return nil
	},
}

func init() {
	hashContentCmd.Flags().StringVarP(&hashContentFile, "file", "f", "fixtures/exams.yaml", "fixture file")
	hashOutcomeCmd.Flags().Int64Var(&hashSubject, "exam", 0, "exam id")
	hashOutcomeCmd.Flags().Int64Var(&hashPrincipal, "principal", 0, "taker id")
	hashOutcomeCmd.Flags().IntVar(&hashScore, "score", 0, "committed score")
	hashOutcomeCmd.Flags().StringVar(&hashCompletedAt, "completed-at", "", "completion time, RFC 3339")
	_ = hashOutcomeCmd.MarkFlagRequired("exam")
	_ = hashOutcomeCmd.MarkFlagRequired("principal")
	_ = hashOutcomeCmd.MarkFlagRequired("completed-at")
	hashCmd.AddCommand(hashContentCmd, hashOutcomeCmd)
	rootCmd.AddCommand(hashCmd)
}
