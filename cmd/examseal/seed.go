package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"examseal/core/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load exams and questions from a YAML fixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.ReadFile(seedFile)
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		exams, questions, err := seed.Apply(cmd.Context(), a.exams, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d exams, %d questions\n", exams, questions)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "fixtures/exams.yaml", "fixture file")
	rootCmd.AddCommand(seedCmd)
}
