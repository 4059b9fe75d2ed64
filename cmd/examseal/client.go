package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"examseal/api/client"
	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/integrity"
)

var (
	serverURL   string
	serverToken string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Call a running examseal API",
}

func apiClient() *client.Client {
	return client.New(serverURL, serverToken, 60*time.Second)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func examArg(args []string, i int) (int64, error) {
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[i])
	}
	return id, nil
}

// examCommand builds a client subcommand taking one exam id.
func examCommand(use, short string, run func(cmd *cobra.Command, c *client.Client, id int64) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " EXAM_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := examArg(args, 0)
			if err != nil {
				return err
			}
			out, err := run(cmd, apiClient(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

var (
	loginID   int64
	loginRole string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Fetch a development token (server must run with DEV_TOKENS=true)",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := auth.ParseRole(loginRole)
		if err != nil {
			return err
		}
		tok, err := apiClient().LoginToken(cmd.Context(), auth.Principal{ID: loginID, Role: role})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var examsCmd = &cobra.Command{
	Use:   "exams",
	Short: "List exams with your status",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient().ListExams(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var submitAnswers []string

// parseAnswers reads QUESTION_ID=CHOICE pairs; an empty choice is a blank.
func parseAnswers(pairs []string) ([]exam.Answer, error) {
	out := make([]exam.Answer, 0, len(pairs))
	for _, p := range pairs {
		qid, choice, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("answer %q: want QUESTION_ID=CHOICE", p)
		}
		id, err := strconv.ParseInt(qid, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("answer %q: %w", p, err)
		}
		a := exam.Answer{ItemID: id}
		if strings.TrimSpace(choice) != "" {
			if a.Selected, err = exam.ParseChoice(choice); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

var (
	reconcileKind      string
	reconcilePrincipal int64
	reconcileTx        string
)

func init() {
	clientCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("EXAMSEAL_URL", "http://localhost:8080"), "API base URL")
	clientCmd.PersistentFlags().StringVar(&serverToken, "token", envOr("EXAMSEAL_TOKEN", ""), "bearer token")

	loginCmd.Flags().Int64Var(&loginID, "id", 0, "principal id")
	loginCmd.Flags().StringVar(&loginRole, "role", "STUDENT", "ADMIN, STAFF or STUDENT")
	_ = loginCmd.MarkFlagRequired("id")

	submitCmd := examCommand("submit", "Submit answers and commit the result", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
		answers, err := parseAnswers(submitAnswers)
		if err != nil {
			return nil, err
		}
		return c.Submit(cmd.Context(), id, answers)
	})
	submitCmd.Flags().StringArrayVarP(&submitAnswers, "answer", "a", nil, "QUESTION_ID=CHOICE (repeatable, empty choice = blank)")

	verifyResultCmd := &cobra.Command{
		Use:   "verify-result EXAM_ID STUDENT_ID",
		Short: "Verify a committed result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := examArg(args, 0)
			if err != nil {
				return err
			}
			sid, err := examArg(args, 1)
			if err != nil {
				return err
			}
			v, err := apiClient().VerifyOutcome(cmd.Context(), id, sid)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}

	resolve := func(res integrity.Resolution) *cobra.Command {
		c := examCommand(string(res), string(res)+" a pending ledger call", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.Reconcile(cmd.Context(), id, integrity.ReconcileRequest{
				Kind:        exam.PendingKind(reconcileKind),
				PrincipalID: reconcilePrincipal,
				Resolution:  res,
				TxRef:       reconcileTx,
			})
		})
		c.Flags().StringVar(&reconcileKind, "kind", "lock", "lock or commit")
		c.Flags().Int64Var(&reconcilePrincipal, "principal", 0, "taker id (commit markers)")
		if res == integrity.ResolveConfirm {
			c.Flags().StringVar(&reconcileTx, "tx", "", "transaction reference the ledger recorded")
		}
		return c
	}
	reconcileCmd := &cobra.Command{Use: "reconcile", Short: "Resolve indeterminate ledger calls"}
	reconcileCmd.AddCommand(resolve(integrity.ResolveConfirm), resolve(integrity.ResolveDiscard))

	clientCmd.AddCommand(
		loginCmd,
		examsCmd,
		examCommand("lock", "Lock an exam's question paper", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.Lock(cmd.Context(), id)
		}),
		examCommand("start", "Start your attempt", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.Start(cmd.Context(), id)
		}),
		examCommand("questions", "Show the question paper of your open attempt", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.Questions(cmd.Context(), id)
		}),
		submitCmd,
		examCommand("verify", "Verify a locked question paper", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.VerifyContent(cmd.Context(), id)
		}),
		verifyResultCmd,
		examCommand("anchors", "Check stored fingerprints against the ledger", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.VerifyAnchors(cmd.Context(), id)
		}),
		examCommand("result", "Show your committed result", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.MyResult(cmd.Context(), id)
		}),
		examCommand("pending", "List pending ledger calls", func(cmd *cobra.Command, c *client.Client, id int64) (any, error) {
			return c.Pending(cmd.Context(), id)
		}),
		reconcileCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Show node status",
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := apiClient().Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			},
		},
	)
	rootCmd.AddCommand(clientCmd)
}
