package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"examseal/core/auth"
	"examseal/core/config"
	"examseal/core/integrity"
	"examseal/core/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Operate the local hash-chain ledger",
}

var ledgerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local ledger over HTTP for remote examseal nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		log := cfg.NewLogger()
		l, err := ledger.OpenLocal(cfg.LedgerDBPath)
		if err != nil {
			return err
		}
		defer l.Close()
		if cfg.LedgerToken == "" {
			log.Warn("ledger gateway running without a bearer token")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log.Info("ledger gateway listening", "addr", cfg.LedgerListenAddr, "db", cfg.LedgerDBPath)
		return serveGateway(ctx, cfg.LedgerListenAddr, ledger.Handler(l, cfg.LedgerToken, log))
	},
}

var verifyExams []int64

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the local chain and optionally check exams' anchors against it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if a.local == nil {
			return errors.New("ledger verify needs LEDGER_MODE=local")
		}
		out := cmd.OutOrStdout()
		n, err := a.local.VerifyChain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "chain ok: %d entries\n", n)

		// Anchor checks run with oversight rights; this command is local-only.
		operator := auth.Principal{ID: 0, Role: auth.RoleAdmin}
		failed := false
		for _, id := range verifyExams {
			checks, err := a.integrity.VerifyAnchors(cmd.Context(), id, operator)
			if err != nil {
				return fmt.Errorf("exam %d: %w", id, err)
			}
			for _, c := range checks {
				fmt.Fprintf(out, "exam %d\t%s\tprincipal=%d\t%s\t%s %s\n", id, c.Kind, c.PrincipalID, c.TxRef, c.Verdict, c.Problem)
				if c.Verdict != integrity.Verified {
					failed = true
				}
			}
		}
		if failed {
			return errors.New("anchor verification failed")
		}
		return nil
	},
}

func init() {
	ledgerVerifyCmd.Flags().Int64SliceVar(&verifyExams, "exam", nil, "exam ids whose anchors to check (repeatable)")
	ledgerCmd.AddCommand(ledgerServeCmd, ledgerVerifyCmd)
	rootCmd.AddCommand(ledgerCmd)
}
