package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"trustlance/config"
	"trustlance/integrations/archive"
	"trustlance/integrations/exports"
)

const exportPageSize = 1000

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("export", stderr)
	driver := fs.String("driver", "sqlite", "archive driver (sqlite or postgres)")
	dsn := fs.String("db", os.Getenv(config.EnvArchiveDSN), "archive DSN")
	format := fs.String("format", "jsonl", "output format: jsonl, csv or parquet")
	out := fs.String("out", "", "output file (stdout when empty, required for parquet)")
	escrowID := fs.Uint64("escrow", 0, "only events of this escrow")
	eventType := fs.String("type", "", "only events of this type")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*dsn) == "" {
		return printError(stderr, "--db is required")
	}
	kind := strings.ToLower(strings.TrimSpace(*format))
	switch kind {
	case "jsonl", "csv":
	case "parquet":
		if strings.TrimSpace(*out) == "" {
			return printError(stderr, "--out is required for parquet exports")
		}
	default:
		return printError(stderr, fmt.Sprintf("unsupported format %q", *format))
	}

	db, err := archive.Open(*driver, *dsn)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	records, err := collectRecords(context.Background(), archive.New(db, nil), archive.Query{EscrowID: *escrowID, Type: *eventType})
	if err != nil {
		return printError(stderr, fmt.Sprintf("read archive: %v", err))
	}
	rows, err := exports.RowsFromRecords(records)
	if err != nil {
		return printError(stderr, fmt.Sprintf("decode events: %v", err))
	}

	var sum string
	switch kind {
	case "parquet":
		sum, err = exports.WriteEventsParquet(*out, rows)
		if err != nil {
			return printError(stderr, err.Error())
		}
	default:
		var data []byte
		if kind == "csv" {
			data, sum, err = exports.EventsCSV(rows)
		} else {
			data, sum, err = exports.EventsJSONL(rows)
		}
		if err != nil {
			return printError(stderr, err.Error())
		}
		if *out == "" {
			if _, err := stdout.Write(data); err != nil {
				return printError(stderr, err.Error())
			}
		} else if err := os.WriteFile(*out, data, 0o644); err != nil {
			return printError(stderr, err.Error())
		}
	}
	fmt.Fprintf(stderr, "exported %d events (blake3 %s)\n", len(rows), sum)
	return 0
}

// collectRecords pages through the archive until a short page is returned.
func collectRecords(ctx context.Context, a *archive.Archive, q archive.Query) ([]archive.EventRecord, error) {
	var all []archive.EventRecord
	q.Limit = exportPageSize
	for {
		page, err := a.List(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
		q.AfterSequence = page[len(page)-1].Sequence
	}
}
