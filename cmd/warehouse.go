package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/store"
)

// loadChunkSize bounds one MergeRows call during event replay.
const loadChunkSize = 500

var warehouseLoadFile string

var warehouseCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Manage the prediction warehouse",
	Long:  "Commands for migrating the warehouse schema, inspecting its contents, and replaying event files into it.",
}

// -- warehouse migrate --

var warehouseMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the warehouse schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.Migrate(ctx); err != nil {
			return eris.Wrap(err, "warehouse migrate")
		}

		zap.L().Info("warehouse schema ready", zap.String("driver", cfg.Warehouse.Driver))
		return nil
	},
}

// -- warehouse status --

var warehouseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse row counts and freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.Migrate(ctx); err != nil {
			return eris.Wrap(err, "warehouse migrate")
		}

		summary, err := wh.Summary(ctx)
		if err != nil {
			return eris.Wrap(err, "warehouse status")
		}

		formatWarehouseStatus(os.Stdout, cfg.Warehouse.Driver, summary)
		return nil
	},
}

// -- warehouse load --

var warehouseLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Replay a prediction event file into the warehouse",
	Long:  "Reads prediction events from a JSONL file and merges them into the warehouse. Replays dedup on event id, so loading the same file twice is safe.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rows, err := loadEventRows(warehouseLoadFile)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			zap.L().Info("no events found", zap.String("file", warehouseLoadFile))
			return nil
		}

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.Migrate(ctx); err != nil {
			return eris.Wrap(err, "warehouse migrate")
		}

		for start := 0; start < len(rows); start += loadChunkSize {
			end := min(start+loadChunkSize, len(rows))
			if err := wh.MergeRows(ctx, rows[start:end]); err != nil {
				return eris.Wrapf(err, "warehouse load rows %d-%d", start, end-1)
			}
		}

		zap.L().Info("events loaded",
			zap.String("file", warehouseLoadFile),
			zap.Int("rows", len(rows)),
			zap.String("driver", cfg.Warehouse.Driver),
		)
		return nil
	},
}

func init() {
	warehouseLoadCmd.Flags().StringVar(&warehouseLoadFile, "file", "", "JSONL file of prediction events (required)")
	_ = warehouseLoadCmd.MarkFlagRequired("file")

	warehouseCmd.AddCommand(warehouseMigrateCmd)
	warehouseCmd.AddCommand(warehouseStatusCmd)
	warehouseCmd.AddCommand(warehouseLoadCmd)
	rootCmd.AddCommand(warehouseCmd)
}

// openWarehouse builds the configured warehouse driver. The warehouse
// commands work against whatever warehouse.driver points at, whether or not
// the live sink is enabled.
func openWarehouse(ctx context.Context) (store.Warehouse, error) {
	if err := cfg.Validate("warehouse"); err != nil {
		return nil, err
	}
	return store.Open(ctx, store.Options{
		Driver:      cfg.Warehouse.Driver,
		Path:        cfg.Warehouse.Path,
		DatabaseURL: cfg.Warehouse.DatabaseURL,
	})
}

// loadEventRows reads prediction events from a JSONL file and flattens them
// onto the warehouse row schema.
func loadEventRows(path string) ([]store.WarehouseRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open events file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var rows []store.WarehouseRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var ev model.PredictionEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, eris.Wrapf(err, "parse %s line %d", path, line)
		}

		row, err := store.FlattenEvent(ev)
		if err != nil {
			return nil, eris.Wrapf(err, "flatten event %s", ev.EventID)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read events file %s", path)
	}

	return rows, nil
}

// formatWarehouseStatus writes the summary as a small table.
func formatWarehouseStatus(out io.Writer, driver string, s store.WarehouseSummary) {
	lastEvent := "-"
	if !s.LastEventTS.IsZero() {
		lastEvent = s.LastEventTS.Format("2006-01-02 15:04:05")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DRIVER\tROWS\tPRODUCTS\tLAST_EVENT")
	_, _ = fmt.Fprintln(w, "------\t----\t--------\t----------")
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", driver, s.Rows, s.DistinctProducts, lastEvent)
	_ = w.Flush()
}
