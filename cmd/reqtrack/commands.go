package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reqtrack/reqtrack/internal/config"
	"github.com/reqtrack/reqtrack/internal/ingest"
	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		department, _ := cmd.Flags().GetString("department")
		status, _ := cmd.Flags().GetString("status")

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		positions, err := c.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tTITLE\tDEPARTMENT\tLOCATION\tSTATUS\tBUDGET\tREQ")
		shown := 0
		for _, p := range positions {
			if department != "" && !strings.EqualFold(p.Department, department) {
				continue
			}
			if status != "" && !strings.EqualFold(p.Status, status) {
				continue
			}
			budget := "-"
			if p.Budget != nil {
				budget = fmt.Sprintf("%.2f", *p.Budget)
			}
			req := "-"
			if p.Req != nil {
				req = *p.Req
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Code, p.Title, p.Department, p.Location, p.Status, budget, req)
			shown++
		}
		w.Flush()
		printStatus("Positions", "%d of %d shown", shown, len(positions))
		return nil
	},
}

// --- create ---

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a position",
	Long: `Create a position.

Examples:
  reqtrack create --title "Backend Engineer" --department Engineering
  reqtrack create --title "Clinical Lead" --department Clinical --budget 1800000 --req REQ-42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		if strings.TrimSpace(title) == "" {
			return fmt.Errorf("--title is required")
		}

		fields := normalize.Row{"title": title}
		for _, flag := range []string{"code", "department", "location", "status", "req"} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				fields[flag] = v
			}
		}
		if cmd.Flags().Changed("budget") {
			budget, _ := cmd.Flags().GetFloat64("budget")
			fields["budget"] = budget
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		p, err := c.Create(cmd.Context(), fields)
		if err != nil {
			return err
		}

		printSuccess("Created position %s (%s)", p.ID, p.Title)
		return nil
	},
}

// --- fill ---

var fillCmd = &cobra.Command{
	Use:   "fill <id>",
	Short: "Mark a position as filled (or another status with --status)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		p, err := c.Update(cmd.Context(), args[0], map[string]any{"status": status})
		if err != nil {
			return err
		}

		printSuccess("Position %s is now %s", p.ID, p.Status)
		return nil
	},
}

// --- import ---

const importBatchSize = 200

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-import positions from a spreadsheet export (.xlsx or .csv)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := ingest.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			printWarning("no data rows found in %s", args[0])
			return nil
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}

		// Ship batches concurrently; each batch goes through the server-side
		// normalizer. Four in flight keeps a large export moving without
		// hammering the server.
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(4)

		results := make(chan int, (len(rows)+importBatchSize-1)/importBatchSize)
		for start := 0; start < len(rows); start += importBatchSize {
			end := start + importBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			batch := rows[start:end]
			g.Go(func() error {
				n, err := c.Import(ctx, batch)
				if err != nil {
					return err
				}
				results <- n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		close(results)

		imported := 0
		for n := range results {
			imported += n
		}
		printSuccess("Imported %d of %d rows from %s", imported, len(rows), args[0])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage reqtrack configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			printStatus(info.Key, "%s  (env %s)", info.Value, info.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	listCmd.Flags().String("department", "", "only show positions in this department")
	listCmd.Flags().String("status", "", "only show positions with this status")

	createCmd.Flags().String("title", "", "position title (required)")
	createCmd.Flags().String("code", "", "short human-readable code")
	createCmd.Flags().String("department", "", "department")
	createCmd.Flags().String("location", "", "location")
	createCmd.Flags().String("status", "", "initial status (default Proposed)")
	createCmd.Flags().Float64("budget", 0, "budget amount")
	createCmd.Flags().String("req", "", "external requisition identifier")

	fillCmd.Flags().String("status", position.StatusFilled, "status to set")
}
