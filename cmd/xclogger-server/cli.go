package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/config"
	"github.com/X-ChenD-Hai/xclogger-server/internal/export"
	"github.com/X-ChenD-Hai/xclogger-server/internal/logger"
	"github.com/X-ChenD-Hai/xclogger-server/internal/storage"
	"github.com/X-ChenD-Hai/xclogger-server/internal/store"
	"github.com/X-ChenD-Hai/xclogger-server/internal/transport"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/goccy/go-json"
)

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// runSendSubcommand sends records to a running server and prints the
// assigned ids. Useful for smoke-testing a deployment.
func runSendSubcommand(args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	endpoint := fs.String("endpoint", transport.DefaultEndpoint, "Transport endpoint to send to")
	role := fs.String("role", "cli", "Record role")
	label := fs.String("label", "", "Record label")
	level := fs.Int("level", 0, "Record level")
	count := fs.Int("count", 1, "Number of records to send")
	timeout := fs.Duration("timeout", transport.DefaultClientTimeout, "Per-request timeout")
	var messages stringList
	fs.Var(&messages, "message", "Message text (repeatable)")
	_ = fs.Parse(args)

	if *count < 1 {
		fmt.Fprintln(os.Stderr, "Error: -count must be at least 1")
		return 1
	}

	ctx := context.Background()
	client, err := transport.Dial(ctx, *endpoint, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	for i := 0; i < *count; i++ {
		rec := &models.Record{
			Role:      *role,
			Label:     *label,
			File:      "cli",
			Function:  "send",
			Time:      uint64(time.Now().UnixNano()),
			ProcessID: uint64(os.Getpid()),
			Level:     int32(*level),
			Messages:  messages,
		}
		id, err := client.SendRecord(ctx, rec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error sending record %d: %v\n", i+1, err)
			return 1
		}
		fmt.Printf("sent record %d (id %d)\n", i+1, id)
	}
	return 0
}

// runExportSubcommand exports matching records from the local database
// without starting the server.
func runExportSubcommand(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to xclogger.toml (optional)")
	filterJSON := fs.String("filter-json", "", "Filter as JSON, e.g. {\"role\":{\"mode\":\"equal\",\"value\":\"app\"}}")
	orderBy := fs.String("order-by", "id", "Field to order by")
	order := fs.String("order", "asc", "Sort direction (asc or desc)")
	verify := fs.Bool("verify", false, "Read the object back after writing and check the record count")
	_ = fs.Parse(args)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	var filter models.FilterConfig
	if *filterJSON != "" {
		if err := json.Unmarshal([]byte(*filterJSON), &filter); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -filter-json: %v\n", err)
			return 1
		}
	}
	field, err := models.ParseMessageField(*orderBy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	dir, err := models.ParseSortDirection(*order)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	st := store.New(logger.Get("store"))
	if err := st.Connect(cfg.Store.DatabasePath()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer st.Close()

	backend, err := storage.New(storageConfig(cfg.Export), logger.Get("storage"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer backend.Close()

	exporter := export.New(st, backend, export.Config{
		Prefix:   cfg.Export.Prefix,
		PageSize: cfg.Export.PageSize,
	}, logger.Get("export"))

	ctx := context.Background()
	res, err := exporter.Export(ctx, filter, field, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		return 1
	}
	fmt.Printf("exported %d records (%d bytes) to %s:%s\n", res.Records, res.Bytes, res.Backend, res.Path)

	if *verify {
		got, err := exporter.Read(ctx, res.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verify failed: %v\n", err)
			return 1
		}
		if int64(len(got)) != res.Records {
			fmt.Fprintf(os.Stderr, "Verify failed: read %d records, expected %d\n", len(got), res.Records)
			return 1
		}
		fmt.Println("verified")
	}
	return 0
}
