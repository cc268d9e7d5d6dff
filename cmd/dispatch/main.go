package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/app"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
)

var (
	historyCampaign string
	historySince    string
	historyLimit    int
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run and inspect MailPilot campaign dispatches",
}

var runCmd = &cobra.Command{
	Use:   "run [campaign-id]",
	Short: "Dispatch a campaign's pending recipients and print the summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

var quotaCmd = &cobra.Command{
	Use:   "quota [user-id]",
	Short: "Show the remaining sends for a user today (UTC)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuota,
}

var historyCmd = &cobra.Command{
	Use:   "history [user-id]",
	Short: "List sent messages from the delivery ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyCampaign, "campaign", "", "only show messages of this campaign")
	historyCmd.Flags().StringVar(&historySince, "since", "", "only show messages sent at or after this RFC 3339 time")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of records")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(cfg, logger.New(cfg.Log.Level, "text"))
}

func runDispatch(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	// Ctrl-C stops the run at the next recipient boundary
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.Registry.Run(ctx, args[0])
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if result.ReconnectRequired {
		return fmt.Errorf("mailbox authorization was revoked, reconnect the account and resume")
	}
	return nil
}

func runQuota(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	remaining, err := a.DispatchSvc.GetRemainingQuota(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]int{
		"remaining": remaining,
		"limit":     a.DispatchSvc.QuotaLimit(),
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter, err := historyFilter()
	if err != nil {
		return err
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.DispatchSvc.GetDeliveryHistory(cmd.Context(), args[0], filter)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), records)
}

func historyFilter() (model.HistoryFilter, error) {
	filter := model.HistoryFilter{
		CampaignID: historyCampaign,
		Limit:      historyLimit,
	}
	if historySince != "" {
		t, err := time.Parse(time.RFC3339, historySince)
		if err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
		filter.Since = &t
	}
	return filter, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

