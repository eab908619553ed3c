// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/penny-vault/pvfund/data"
	"github.com/penny-vault/pvfund/db"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrUnsupportedURL = errors.New("unsupported database url")
	ErrRowConflict    = errors.New("duplicate key within batch")
)

const sqlitePragmas = "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"

var placeholderRegex = regexp.MustCompile(`\$(\d+)`)

type Library struct {
	DBUrl string
	Name  string
	Owner string

	DB      *sql.DB
	Dialect string

	// Clock returns the current time; capture dates and freshness are computed
	// from it
	Clock func() time.Time
}

// Open connects to the database named by dbURL. postgres:// and
// postgresql:// urls use pgx, sqlite:// urls and file paths use sqlite.
func Open(ctx context.Context, dbURL string) (*Library, error) {
	driverName, dsn, dialect, err := parseURL(dbURL)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if dialect == db.SQLite {
		// sqlite allows a single writer
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return &Library{
		DBUrl:   dbURL,
		DB:      conn,
		Dialect: dialect,
		Clock:   time.Now,
	}, nil
}

func parseURL(dbURL string) (driverName, dsn, dialect string, err error) {
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return "pgx", dbURL, db.Postgres, nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		dsn = strings.TrimPrefix(dbURL, "sqlite://")
	case strings.HasSuffix(dbURL, ".db"), strings.HasSuffix(dbURL, ".sqlite"):
		dsn = dbURL
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsupportedURL, dbURL)
	}

	if dsn == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsupportedURL, dbURL)
	}

	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}

	return "sqlite", dsn, db.SQLite, nil
}

// ValidateURL reports whether dbURL names a supported database
func ValidateURL(dbURL string) error {
	_, _, _, err := parseURL(dbURL)
	return err
}

// Close the database connection
func (myLibrary *Library) Close() error {
	return myLibrary.DB.Close()
}

// Migrate brings the schema up to date
func (myLibrary *Library) Migrate() error {
	return db.Migrate(myLibrary.DB, myLibrary.Dialect)
}

// NewFromDB creates a new library object with values from the database
func NewFromDB(ctx context.Context, dbURL string) (*Library, error) {
	myLibrary, err := Open(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := myLibrary.DB.QueryRowContext(ctx, "SELECT name, owner FROM library").Scan(&myLibrary.Name, &myLibrary.Owner); err != nil {
		myLibrary.Close()
		return nil, err
	}

	return myLibrary, nil
}

// SaveDB creates a new record in the library table for this library
func (myLibrary *Library) SaveDB(ctx context.Context) error {
	_, err := myLibrary.DB.ExecContext(ctx, myLibrary.rebind(`INSERT INTO library (name, owner) VALUES ($1, $2)`), myLibrary.Name, myLibrary.Owner)
	return err
}

// Today returns the current capture date
func (myLibrary *Library) Today() time.Time {
	return dateOf(myLibrary.Now())
}

// Now returns the current time of the library clock
func (myLibrary *Library) Now() time.Time {
	if myLibrary.Clock == nil {
		return time.Now()
	}
	return myLibrary.Clock()
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// rebind converts postgres style placeholders into numbered sqlite parameters
func (myLibrary *Library) rebind(query string) string {
	if myLibrary.Dialect != db.SQLite {
		return query
	}
	return placeholderRegex.ReplaceAllString(query, "?$1")
}

// TotalTickers returns the number of tickers with a status row
func (myLibrary *Library) TotalTickers(ctx context.Context) (int, error) {
	count := 0
	err := myLibrary.DB.QueryRowContext(ctx, "SELECT count(*) FROM fundamental_status").Scan(&count)
	return count, err
}

// TotalRecords returns the total number of time-series records in the library
func (myLibrary *Library) TotalRecords(ctx context.Context) (int, error) {
	total := 0
	for _, table := range []string{"company_ratios", "annual_financials", "quarterly_financials", "shareholding_pattern"} {
		count := 0
		if err := myLibrary.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count); err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// LastUpdated returns the most recent status change in the library
func (myLibrary *Library) LastUpdated(ctx context.Context) (time.Time, error) {
	var lastUpdated sql.NullString
	if err := myLibrary.DB.QueryRowContext(ctx, "SELECT max(last_updated) FROM fundamental_status").Scan(&lastUpdated); err != nil {
		return time.Time{}, err
	}

	if !lastUpdated.Valid {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339, lastUpdated.String)
}

// StateCounts returns the number of tickers in each stored state
func (myLibrary *Library) StateCounts(ctx context.Context) (map[data.State]int, error) {
	type stateCount struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	var rows []*stateCount
	if err := sqlscan.Select(ctx, myLibrary.DB, &rows, "SELECT status, count(*) AS count FROM fundamental_status GROUP BY status"); err != nil {
		return nil, err
	}

	counts := make(map[data.State]int, len(rows))
	for _, row := range rows {
		counts[data.State(row.Status)] = row.Count
	}

	return counts, nil
}
