package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, inspect, limit and delete the managed API keys accepted on the completion API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyLimitsCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeyUsageCmd())
	cmd.AddCommand(newKeyAuditCmd())

	return cmd
}

// settingsFlags are the policy flags shared by create and limits.
type settingsFlags struct {
	total   int
	daily   int
	expires string
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.total, "total-limit", -1, "Lifetime request limit (-1 for unlimited)")
	cmd.Flags().IntVar(&f.daily, "daily-limit", -1, "Requests per local calendar day (-1 for unlimited)")
	cmd.Flags().StringVar(&f.expires, "expires-at", "", "Expiry time, e.g. 2026-12-31T23:59:59Z (empty for never)")
}

func (f *settingsFlags) settings() service.KeySettings {
	return service.KeySettings{
		TotalLimit: limitFlag(f.total),
		DailyLimit: limitFlag(f.daily),
		ExpiresAt:  f.expires,
	}
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var flags settingsFlags

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a new API key",
		Long:  "Generate a new managed API key. The secret is printed once; use 'keygate key show' to retrieve it later.",
		Example: `  keygate key create ci-pipeline --daily-limit 500
  keygate key create partner --total-limit 10000 --expires-at 2026-12-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(args[0], flags.settings())
		},
	}

	flags.register(cmd)
	return cmd
}

func runKeyCreate(id string, settings service.KeySettings) error {
	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	key, err := svc.keys.Create(ctx, id, settings)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  ID:          %s\n", key.ID)
	fmt.Printf("  Key:         %s\n", key.Key)
	fmt.Printf("  Total limit: %s\n", formatLimit(key.TotalLimit))
	fmt.Printf("  Daily limit: %s\n", formatLimit(key.DailyLimit))
	fmt.Printf("  Expires:     %s\n", formatExpiry(key.ExpiresAt))
	fmt.Println()
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	items, err := svc.keys.List(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	totals, err := svc.usage.Totals(ctx)
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}

	type keyRow struct {
		model.ManagedAPIKeyListItem
		TotalUsage int `json:"totalUsage"`
	}
	rows := make([]keyRow, len(items))
	for i, item := range items {
		rows[i] = keyRow{ManagedAPIKeyListItem: item, TotalUsage: totals[item.ID]}
	}

	if jsonOutput {
		return printJSON(os.Stdout, rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Printf("%-20s %-14s %-10s %-10s %-26s %-8s\n", "ID", "KEY", "TOTAL", "DAILY", "EXPIRES", "USED")
	fmt.Printf("%-20s %-14s %-10s %-10s %-26s %-8s\n", "--", "---", "-----", "-----", "-------", "----")
	for _, k := range rows {
		fmt.Printf("%-20s %-14s %-10s %-10s %-26s %-8d\n",
			k.ID, k.Prefix, formatLimit(k.TotalLimit), formatLimit(k.DailyLimit), formatExpiry(k.ExpiresAt), k.TotalUsage)
	}

	return nil
}

// ---------- key show ----------

func newKeyShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an API key including its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyShow(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyShow(id string, jsonOutput bool) error {
	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	key, err := svc.keys.GetByID(ctx, id)
	if err != nil {
		return err
	}
	sum, err := svc.usage.Summary(ctx, key.ID, time.Now())
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, map[string]interface{}{
			"key":        key,
			"totalUsage": sum.Total,
			"dailyUsage": sum.Daily,
		})
	}

	fmt.Printf("ID:          %s\n", key.ID)
	fmt.Printf("Key:         %s\n", key.Key)
	fmt.Printf("Created:     %s\n", key.CreatedAt)
	fmt.Printf("Total limit: %s (used %d)\n", formatLimit(key.TotalLimit), sum.Total)
	fmt.Printf("Daily limit: %s (used %d today)\n", formatLimit(key.DailyLimit), sum.Daily)
	fmt.Printf("Expires:     %s\n", formatExpiry(key.ExpiresAt))
	return nil
}

// ---------- key limits ----------

func newKeyLimitsCmd() *cobra.Command {
	var flags settingsFlags

	cmd := &cobra.Command{
		Use:   "limits <id>",
		Short: "Replace an API key's limits and expiry",
		Long:  "Set the limits and expiry of a key. Flags left out are cleared, so pass every limit that should stay in force.",
		Example: `  keygate key limits partner --daily-limit 1000
  keygate key limits partner   # remove all limits and the expiry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyLimits(args[0], flags.settings())
		},
	}

	flags.register(cmd)
	return cmd
}

func runKeyLimits(id string, settings service.KeySettings) error {
	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	key, err := svc.keys.UpdateSettings(ctx, id, settings)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}

	fmt.Printf("Updated %s: total %s, daily %s, expires %s\n",
		key.ID, formatLimit(key.TotalLimit), formatLimit(key.DailyLimit), formatExpiry(key.ExpiresAt))
	return nil
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm", "revoke"},
		Short:   "Delete an API key",
		Long:    "Delete a managed key. Requests using it are rejected immediately; its usage and audit history are kept.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyDelete(args[0])
		},
	}
}

func runKeyDelete(id string) error {
	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	removed, err := svc.keys.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: %q", service.ErrKeyNotFound, id)
	}

	fmt.Printf("Deleted API key %q\n", service.NormalizeKeyID(id))
	return nil
}

// ---------- key usage ----------

func newKeyUsageCmd() *cobra.Command {
	var (
		from, to   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "usage <id>",
		Short: "Show recorded requests for an API key",
		Long:  "List usage records between --from and --to (inclusive). Without flags, shows today's requests.",
		Example: `  keygate key usage partner
  keygate key usage partner --from 2026-01-01 --to 2026-01-31T23:59:59Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyUsage(args[0], from, to, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Range start (default: start of today)")
	cmd.Flags().StringVar(&to, "to", "", "Range end (default: now)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// parseRange resolves the usage range, defaulting to today.
func parseRange(fromRaw, toRaw string, now time.Time) (time.Time, time.Time, error) {
	from, to := service.StartOfDay(now), now
	if fromRaw != "" {
		ts, err := model.ParseTimestamp(fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q", fromRaw)
		}
		from = ts.Time
	}
	if toRaw != "" {
		ts, err := model.ParseTimestamp(toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q", toRaw)
		}
		to = ts.Time
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid time range: --from is after --to")
	}
	return from, to, nil
}

func runKeyUsage(id, fromRaw, toRaw string, jsonOutput bool) error {
	from, to, err := parseRange(fromRaw, toRaw, time.Now())
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	key, err := svc.keys.GetByID(ctx, id)
	if err != nil {
		return err
	}
	records, err := svc.usage.ByRange(ctx, key.ID, from, to)
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, map[string]interface{}{
			"keyId":   key.ID,
			"from":    model.NewTimestamp(from),
			"to":      model.NewTimestamp(to),
			"count":   len(records),
			"records": records,
		})
	}

	fmt.Printf("%d requests for %s between %s and %s\n\n",
		len(records), key.ID, model.NewTimestamp(from), model.NewTimestamp(to))
	for _, rec := range records {
		fmt.Printf("  %s  %-6s %-28s %d\n", rec.Timestamp, rec.Method, rec.Path, rec.Status)
	}
	return nil
}

// ---------- key audit ----------

func newKeyAuditCmd() *cobra.Command {
	var (
		q          service.AuditQuery
		from, to   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Browse captured requests for an API key",
		Long:  "Page through the audit log of a key, newest first. --query matches method, path, status and payloads.",
		Example: `  keygate key audit partner --query gpt-4o
  keygate key audit partner --page 2 --page-size 50 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyAudit(args[0], q, from, to, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&q.Query, "query", "", "Free-text filter")
	cmd.Flags().IntVar(&q.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 20, "Events per page (max 200)")
	cmd.Flags().StringVar(&from, "from", "", "Earliest event time")
	cmd.Flags().StringVar(&to, "to", "", "Latest event time")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyAudit(id string, q service.AuditQuery, fromRaw, toRaw string, jsonOutput bool) error {
	q.Page = max(1, q.Page)
	q.PageSize = min(max(1, q.PageSize), 200)
	if fromRaw != "" {
		ts, err := model.ParseTimestamp(fromRaw)
		if err != nil {
			return fmt.Errorf("invalid --from %q", fromRaw)
		}
		q.From = &ts.Time
	}
	if toRaw != "" {
		ts, err := model.ParseTimestamp(toRaw)
		if err != nil {
			return fmt.Errorf("invalid --to %q", toRaw)
		}
		q.To = &ts.Time
	}

	ctx := context.Background()
	_, svc, err := openServicesFromConfig(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	key, err := svc.keys.GetByID(ctx, id)
	if err != nil {
		return err
	}
	page, err := svc.audit.Page(ctx, key.ID, q)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, page)
	}

	fmt.Printf("Page %d of %d (%d events)\n\n", page.Page, page.Pages, page.Total)
	for _, e := range page.Items {
		tokens := "-"
		if e.TokenUsage != nil {
			tokens = fmt.Sprintf("%d", *e.TokenUsage)
		}
		fmt.Printf("  %s  %-6s %-28s %3d %6dms  tokens=%s\n",
			e.Timestamp, e.Method, e.Path, e.Status, e.DurationMs, tokens)
		if e.Error != nil {
			fmt.Printf("      error: %s\n", *e.Error)
		}
	}
	return nil
}
