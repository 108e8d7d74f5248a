package dispatch

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msanchis/physionotify/internal/db"
)

// RosterAttachmentName is the filename the roster snapshot carries on
// outgoing messages, regardless of its temporary path on disk.
const RosterAttachmentName = "active_roster.csv"

var rosterHeader = []string{"NAME", "SURNAME", "ALTA DATE", "EMAIL", "FINESS"}

// createRosterFile is swapped in tests to simulate write failures.
var createRosterFile = os.Create

// FormatDate renders a date as DD/MM/YYYY, the format used in roster
// snapshots and template contexts.
func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// WriteRoster writes a CSV snapshot of the given physios (assumed ACTIVE and
// already ordered by name) to a uniquely named file under dir. The caller is
// responsible for removing the file once the messages referencing it are sent.
func WriteRoster(dir string, physios []*db.Physio, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("active_roster_%d.csv", now.UnixMilli()))

	f, err := createRosterFile(path)
	if err != nil {
		return "", fmt.Errorf("create roster file: %w", err)
	}
	defer f.Close()

	// Partial snapshots must not outlive a failed write.
	fail := func(err error) (string, error) {
		_ = os.Remove(path)
		return "", err
	}

	w := csv.NewWriter(f)
	if err := w.Write(rosterHeader); err != nil {
		return fail(fmt.Errorf("write roster header: %w", err))
	}

	for _, p := range physios {
		record := []string{p.Name, p.Surname, FormatDate(p.AltaDate), p.Email, p.Finess}
		if err := w.Write(record); err != nil {
			return fail(fmt.Errorf("write roster row: %w", err))
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fail(fmt.Errorf("flush roster: %w", err))
	}

	return path, nil
}
