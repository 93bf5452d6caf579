// Package runstore persists run reports in a local BadgerDB so past runs can
// be listed and inspected without keeping report files around.
//
// Key layout:
//
//	run:{YYYYMMDD}:{ts_ns}  → msgpack-encoded report
//	id:{run_id}             → run key (reverse index)
//
// The date partition keeps day scans cheap and the nanosecond timestamp
// orders keys chronologically, so a lexicographic reverse scan yields
// newest-first history.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/dialogtest/pkg/harness"
)

// ErrNotFound is returned when no run matches the requested ID.
var ErrNotFound = errors.New("runstore: run not found")

const (
	runPrefix = "run:"
	idPrefix  = "id:"
)

// Store is a BadgerDB-backed archive of run reports.
type Store struct {
	db *badger.DB
}

// Options configures Open.
type Options struct {
	// Dir is the directory for the database files. Required unless InMemory.
	Dir string

	// InMemory runs the database without disk persistence, for tests.
	InMemory bool
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("runstore: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("runstore: open %s: %w", opts.Dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey builds the primary key for a report from its start time.
func runKey(startedAt time.Time) []byte {
	ts := startedAt.UnixNano()
	date := startedAt.UTC().Format("20060102")
	return []byte(runPrefix + date + ":" + strconv.FormatInt(ts, 10))
}

func idKey(id string) []byte {
	return []byte(idPrefix + id)
}

// Save writes the report and its ID index entry in one transaction.
func (s *Store) Save(_ context.Context, report *harness.RunReport) error {
	if report.ID == "" {
		return errors.New("runstore: report has no ID")
	}
	value, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("runstore: encode run %s: %w", report.ID, err)
	}
	key := runKey(report.StartedAt)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(idKey(report.ID), key)
	})
}

// Get loads one report by its run ID.
func (s *Store) Get(_ context.Context, id string) (*harness.RunReport, error) {
	var report *harness.RunReport
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		report = new(harness.RunReport)
		return msgpack.Unmarshal(value, report)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: get run %s: %w", id, err)
	}
	return report, nil
}

// List returns up to limit reports, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(_ context.Context, limit int) ([]*harness.RunReport, error) {
	return s.scan([]byte(runPrefix), limit)
}

// ListDate returns the reports started on the given UTC day, newest first.
func (s *Store) ListDate(_ context.Context, date time.Time, limit int) ([]*harness.RunReport, error) {
	prefix := []byte(runPrefix + date.UTC().Format("20060102") + ":")
	return s.scan(prefix, limit)
}

// Delete removes a report and its index entry. Deleting an unknown ID is a
// no-op.
func (s *Store) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// scan iterates the prefix in reverse key order, decoding each report.
func (s *Store) scan(prefix []byte, limit int) ([]*harness.RunReport, error) {
	var reports []*harness.RunReport
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Reverse iteration starts past the last key under the prefix.
		seek := append(append([]byte(nil), prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(reports) >= limit {
				return nil
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			report := new(harness.RunReport)
			if err := msgpack.Unmarshal(value, report); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	return reports, nil
}

// slogLogger adapts badger's logger to slog, dropping info and debug chatter.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...interface{}) {
	slog.Error("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Warningf(f string, v ...interface{}) {
	slog.Warn("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Infof(string, ...interface{})  {}
func (slogLogger) Debugf(string, ...interface{}) {}
