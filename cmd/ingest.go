package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/model"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load source records from an NDJSON file into the source log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, err := readRecords(ingestFile)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			zap.L().Info("no records in input file")
			return nil
		}

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		n, err := backend.InsertRecords(ctx, records)
		if err != nil {
			return eris.Wrap(err, "insert records")
		}

		zap.L().Info("records ingested",
			zap.Int("read", len(records)),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

// readRecords parses one source record per line. Blank lines are skipped; a
// malformed line fails the whole ingest so partial loads are obvious.
func readRecords(path string) ([]model.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var records []model.SourceRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec model.SourceRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, eris.Wrapf(err, "parse line %d", line)
		}
		if rec.RecordID == "" || rec.ContactID == "" {
			return nil, eris.Errorf("line %d: record_id and contact_id are required", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return records, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "NDJSON file of source records (required)")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
