package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag string
	rootCmd = &cobra.Command{
		Use:   "engramctl",
		Short: "CLI client for the engram REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Engram service base URL")

	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead-letter events",
	}
	dlqListCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter events",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runDLQList(apiFlag, limit, os.Stdout)
		},
	}
	dlqListCmd.Flags().IntP("limit", "n", 50, "Maximum events to list")
	dlqRequeueCmd := &cobra.Command{
		Use:   "requeue <eventId>",
		Short: "Requeue a dead-letter event for redelivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQRequeue(apiFlag, args[0], os.Stdout)
		},
	}
	dlqCmd.AddCommand(dlqListCmd, dlqRequeueCmd)
	rootCmd.AddCommand(dlqCmd)

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Run a hybrid retrieval query",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			query, _ := cmd.Flags().GetString("query")
			relScore, _ := cmd.Flags().GetFloat64("relationship-score")
			topK, _ := cmd.Flags().GetInt("topk")
			unified, _ := cmd.Flags().GetBool("unified")
			if owner == "" {
				return fmt.Errorf("--owner required")
			}
			return runSearch(apiFlag, owner, query, relScore, topK, unified, os.Stdout)
		},
	}
	searchCmd.Flags().StringP("owner", "o", "", "Owner ID (required)")
	searchCmd.Flags().StringP("query", "q", "", "Search query text (required)")
	searchCmd.Flags().Float64P("relationship-score", "r", 0, "Relationship score applied to positive-sentiment results")
	searchCmd.Flags().IntP("topk", "k", 10, "Number of top results to return")
	searchCmd.Flags().BoolP("unified", "u", false, "Apply the recency-boost rerank variant")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)

	sloCmd := &cobra.Command{
		Use:   "slo",
		Short: "Show the latest consistency audit report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSLO(apiFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(sloCmd)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect deletion audits",
	}
	auditVerifyCmd := &cobra.Command{
		Use:   "verify <auditId>",
		Short: "Verify a deletion audit's signature and completeness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, _ := cmd.Flags().GetString("signature")
			return runAuditVerify(apiFlag, args[0], sig, os.Stdout)
		},
	}
	auditVerifyCmd.Flags().StringP("signature", "s", "", "Signature from the deletion receipt to check")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
