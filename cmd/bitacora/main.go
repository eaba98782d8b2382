package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mind-engage/bitacora/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bitacora",
		Short:        "Assessment and grading engine",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), expireCmd(), tokenCmd())

	// "serve" is the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func expireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Force-submit every attempt past its deadline once and exit",
		RunE:  runExpire,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE:  runToken,
	}
	config.RegisterFlags(cmd.Flags())
	f := cmd.Flags()
	f.String("sub", "", "Token subject (enrollment or staff id)")
	f.String("role", "student", "Role (student, teacher, admin)")
	f.Duration("ttl", 0, "Token lifetime (default 12h)")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
