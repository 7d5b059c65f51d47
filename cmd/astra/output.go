package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yairfalse/astra/orchestrator"
	"github.com/yairfalse/astra/storage"
	"github.com/yairfalse/astra/types"
	"github.com/yairfalse/astra/wal"
)

// Exit codes by activation outcome, so scripts can branch without parsing
const (
	exitError         = 1
	exitAmbiguous     = 2
	exitNotFound      = 3
	exitUnrecoverable = 4
	exitTimeout       = 5
	exitResumeFailed  = 6
	exitCreateDenied  = 7
	exitCancelled     = 130
)

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch orchestrator.OutcomeOf(err) {
	case storage.OutcomeAmbiguous:
		return exitAmbiguous
	case storage.OutcomeNotFound:
		return exitNotFound
	case storage.OutcomeUnrecoverable:
		return exitUnrecoverable
	case storage.OutcomeTimeout:
		return exitTimeout
	case storage.OutcomeResumeFailed:
		return exitResumeFailed
	case storage.OutcomeCreateDenied:
		return exitCreateDenied
	case storage.OutcomeCancelled:
		return exitCancelled
	}
	return exitError
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDatabases(w io.Writer, format string, dbs []types.Database) error {
	if format == "json" {
		if dbs == nil {
			dbs = []types.Database{}
		}
		return printJSON(w, dbs)
	}

	if len(dbs) == 0 {
		_, err := fmt.Fprintln(w, "No databases found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCLOUD\tREGION\tKEYSPACE")
	for _, db := range dbs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			db.ID, db.Name, db.Status, db.CloudProvider, db.Region, db.Keyspace)
	}
	return tw.Flush()
}

func printDatabase(w io.Writer, format string, db types.Database) error {
	if format == "json" {
		return printJSON(w, db)
	}
	return printDatabases(w, format, []types.Database{db})
}

func printRecords(w io.Writer, format string, records []storage.ActivationRecord) error {
	if format == "json" {
		if records == nil {
			records = []storage.ActivationRecord{}
		}
		return printJSON(w, records)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No activations recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "REV\tSTARTED\tSELECTOR\tDATABASE\tPATH\tOUTCOME\tPOLLS\tDURATION")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Revision,
			r.StartedAt.Local().Format(time.DateTime),
			r.Selector,
			dash(r.DatabaseID),
			dash(r.Path),
			r.Outcome,
			r.Polls,
			r.Duration.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}

func printEntries(w io.Writer, format string, entries []wal.Entry) error {
	if format == "json" {
		if entries == nil {
			entries = []wal.Entry{}
		}
		return printJSON(w, entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No journal entries")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SEQ\tTIME\tRUN\tTYPE\tDATABASE\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence,
			e.Timestamp.Local().Format(time.DateTime),
			shortID(e.RunID),
			e.Type,
			dash(e.DatabaseID),
			e.Error,
		)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// errNotFound wraps a missing id in the error type exit codes know about
func errNotFound(id string) error {
	return &types.ResourceNotFoundError{Selector: types.ByID(id)}
}
