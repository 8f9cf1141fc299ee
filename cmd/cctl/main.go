// Package main implements cctl, a command-line client for the councild HTTP
// API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the councild HTTP server
	serverURL string
	timeout   time.Duration
	version   = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cctl",
	Short: "CLI for the councild HTTP API",
	Long: `cctl talks to a running councild: the collective field, the ceremony
calendar, council queries and the wisdom archive.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9191", "councild server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	wisdomCmd.Flags().Int("limit", 5, "maximum entries to show")
	eventsCmd.Flags().StringSlice("topic", nil, "topics to follow (default all)")

	ceremonyCmd.AddCommand(ceremonyListCmd, ceremonyStartCmd)
	rootCmd.AddCommand(healthCmd, statusCmd, fieldCmd, ceremonyCmd, oracleCmd, councilCmd, wisdomCmd, eventsCmd)
}

func apiClient() *client {
	return newClient(serverURL, timeout)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check councild server health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := apiClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\nServer URL: %s\n", resp.Status, serverURL)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hub services, counts and the field",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := apiClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(resp, newStyles()))
		return nil
	},
}

var fieldCmd = &cobra.Command{
	Use:   "field",
	Short: "Show the collective field",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := apiClient().Field(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderField(resp, newStyles()))
		return nil
	},
}

var ceremonyCmd = &cobra.Command{
	Use:     "ceremony",
	Aliases: []string{"ceremonies"},
	Short:   "List or start ceremonies",
	RunE:    runCeremonyList,
}

var ceremonyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the ceremony calendar and running instances",
	RunE:  runCeremonyList,
}

func runCeremonyList(cmd *cobra.Command, _ []string) error {
	resp, err := apiClient().Ceremonies(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderCeremonies(resp, newStyles()))
	return nil
}

var ceremonyStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a ceremony now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().StartCeremony(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started %s in #%s\n", resp.InstanceID, resp.Channel)
		return nil
	},
}

var oracleCmd = &cobra.Command{
	Use:   "oracle <question>",
	Short: "Ask one council member",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().Oracle(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderQuick(resp, newStyles()))
		return nil
	},
}

var councilCmd = &cobra.Command{
	Use:   "council <topic>",
	Short: "Convene a full council deliberation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().Council(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderCouncil(resp, newStyles()))
		return nil
	},
}

var wisdomCmd = &cobra.Command{
	Use:   "wisdom [query]",
	Short: "Show recent wisdom or search the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		resp, err := apiClient().Wisdom(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderWisdom(resp, newStyles()))
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow hub events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topic")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s := newStyles()
		out := cmd.OutOrStdout()
		return apiClient().Events(ctx, topics, func(ev streamEvent) {
			fmt.Fprintf(out, "%s %s\n", s.label.Render(ev.Topic), ev.Data)
		})
	},
}
