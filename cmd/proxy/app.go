package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/abdhe/llm-chat-proxy/pkg/config"
	"github.com/abdhe/llm-chat-proxy/pkg/version"
)

// app holds CLI state shared by the subcommands.
type app struct {
	root *cobra.Command

	stdout     io.Writer
	stderr     io.Writer
	envFile    string
	jsonOutput bool
}

func newApp() *app {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}

	a.root = &cobra.Command{
		Use:   "llm-chat-proxy",
		Short: "HTTP proxy for chat completions",
		Long: `llm-chat-proxy relays chat conversations to Gemini or OpenAI behind a
shared-secret HTTP API, with streaming over server-sent events.

Running without a subcommand is the same as "serve".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	a.root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to read (missing file is ignored)")

	a.root.AddCommand(a.newServeCommand(), a.newVersionCommand(), a.newConfigCommand())
	return a
}

// Execute runs the root command.
func (a *app) Execute() error {
	a.root.SetOut(a.stdout)
	a.root.SetErr(a.stderr)
	return a.root.Execute()
}

func (a *app) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, metrics and gRPC health servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if !a.jsonOutput {
				fmt.Fprintln(a.stdout, info.Text())
				return nil
			}
			out, err := info.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	return cmd
}

func (a *app) newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Masked()); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(a.stderr, "configuration is invalid:\n%v\n", err)
			}
			return nil
		},
	}
}
