// Package workbook persists the longitudinal dataset and its pivot in a
// spreadsheet, one whole-file snapshot per commit.
package workbook

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regreport/internal/components/assert"
	"regreport/internal/components/telemetry"
	"regreport/internal/reconcile"
	"regreport/pkg/fsutil"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/xuri/excelize/v2"
)

const (
	report_store_begin  = "store.begin"
	report_store_commit = "store.commit"
	report_store_load   = "store.load"
)

const (
	DataSheet  = "Sheet1"
	PivotSheet = "Template"
)

var ErrLocked = errors.New("workbook is locked by another run")

// Store is the single-writer home of the dataset workbook. Writers go through
// Begin so that two runs never interleave their read-modify-write cycles.
type Store struct {
	path string
	tel  telemetry.API
}

func NewStore(path string, tel telemetry.API) Store {
	assert.NotEmptyStr(path)
	assert.NotNil(tel)
	return Store{
		path: path,
		tel:  telemetry.NewScopedAPI("workbook", tel),
	}
}

func (s Store) Path() string {
	return s.path
}

func (s Store) lockPath() string {
	return s.path + ".lock"
}

// Tx is an exclusive hold on the workbook with the snapshot loaded at Begin.
// It must end with exactly one of Commit or Discard.
type Tx struct {
	store    Store
	lock     *os.File
	snapshot reconcile.Dataset
	done     bool
}

// staleUnreadableAfter is how long a lock without a readable holder is
// trusted, the holder may not have written its pid yet.
const staleUnreadableAfter = time.Minute

// Begin takes the workbook lock and loads the current snapshot. A missing
// workbook is an empty dataset. A lock left behind by a process that is no
// longer running is taken over.
func (s Store) Begin() (*Tx, error) {
	lock, err := s.acquire()
	if err != nil {
		return nil, err
	}

	tx := &Tx{store: s, lock: lock}

	dataset, err := Load(s.path)
	if err != nil {
		s.tel.ReportBroken(report_store_load, err, s.path)
		_ = tx.Discard()
		return nil, err
	}
	tx.snapshot = dataset
	s.tel.ReportDebug("loaded snapshot", s.path, dataset.Len())

	return tx, nil
}

func (s Store) acquire() (*os.File, error) {
	for attempt := 0; ; attempt++ {
		lock, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(lock, "pid %d since %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			return lock, nil
		}
		if !os.IsExist(err) {
			s.tel.ReportBroken(report_store_begin, fmt.Errorf("create lock: %w", err), s.lockPath())
			return nil, err
		}

		holder, stale := s.staleLock()
		if !stale || attempt > 0 {
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, s.lockPath(), holder)
		}
		s.tel.ReportWarning(report_store_begin, "taking over a lock whose holder is gone", s.lockPath(), holder)
		err = os.Remove(s.lockPath())
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
}

// staleLock reads the current lock. It is stale when the recorded pid is not
// running, or when it has no readable pid and is older than
// staleUnreadableAfter.
func (s Store) staleLock() (holder string, stale bool) {
	contents, err := os.ReadFile(s.lockPath())
	if os.IsNotExist(err) {
		return "released", true
	}
	if err != nil {
		return err.Error(), false
	}
	holder = strings.TrimSpace(string(contents))

	var pid int32
	_, err = fmt.Sscanf(holder, "pid %d", &pid)
	if err != nil || pid <= 0 {
		info, statErr := os.Stat(s.lockPath())
		return holder, statErr == nil && time.Since(info.ModTime()) > staleUnreadableAfter
	}
	alive, err := process.PidExists(pid)
	if err != nil {
		s.tel.ReportWarning(report_store_begin, fmt.Errorf("check lock holder: %w", err), holder)
		return holder, false
	}
	return holder, !alive
}

// Snapshot is the dataset as it was when the transaction began.
func (tx *Tx) Snapshot() reconcile.Dataset {
	return tx.snapshot
}

// Commit replaces the workbook with dataset and its pivot, then releases the
// lock. The previous workbook stays intact if writing fails.
func (tx *Tx) Commit(dataset reconcile.Dataset, pivot reconcile.Pivot) error {
	if tx.done {
		return fmt.Errorf("commit: transaction already finished")
	}
	defer tx.Discard()

	f, err := Build(dataset, pivot)
	if err != nil {
		tx.store.tel.ReportBroken(report_store_commit, fmt.Errorf("build: %w", err))
		return err
	}
	defer f.Close()

	err = fsutil.WriteAtomic(tx.store.path, 0644, func(w io.Writer) error {
		return f.Write(w)
	})
	if err != nil {
		tx.store.tel.ReportBroken(report_store_commit, fmt.Errorf("write: %w", err), tx.store.path)
		return err
	}
	tx.store.tel.ReportCount("workbook.rows", int64(dataset.Len()))
	return nil
}

// Discard releases the lock without writing. It is safe to call after Commit.
func (tx *Tx) Discard() error {
	if tx.done {
		return nil
	}
	tx.done = true
	closeErr := tx.lock.Close()
	removeErr := os.Remove(tx.store.lockPath())
	return errors.Join(closeErr, removeErr)
}

// Load reads the dataset sheet of the workbook at path. Columns are found by
// header name, a missing workbook yields an empty dataset.
func Load(path string) (reconcile.Dataset, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return reconcile.Dataset{}, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return reconcile.Dataset{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheet := DataSheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return reconcile.Dataset{}, fmt.Errorf("read %s: %w", sheet, err)
	}
	return datasetFromRows(rows), nil
}

func datasetFromRows(rows [][]string) reconcile.Dataset {
	if len(rows) == 0 {
		return reconcile.Dataset{}
	}

	header := map[string]int{}
	for i, name := range rows[0] {
		header[strings.TrimSpace(name)] = i
	}
	get := func(row []string, col string) string {
		idx, ok := header[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	dataset := reconcile.Dataset{Rows: make([]reconcile.Row, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		dataset.Rows = append(dataset.Rows, reconcile.Row{
			Date:               get(row, reconcile.ColumnDate),
			RegistrationType:   get(row, reconcile.ColumnRegistrationType),
			RegistrationSource: get(row, reconcile.ColumnRegistrationSource),
			CampaignSource:     get(row, reconcile.ColumnCampaignSource),
			NewSource:          get(row, reconcile.ColumnNewSource),
		})
	}
	return dataset
}

// ReadPivot returns the text of the pivot sheet, header first.
func ReadPivot(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(PivotSheet)
}
