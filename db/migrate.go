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
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*
var migrationFS embed.FS

// Supported database dialects
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

var ErrUnknownDialect = errors.New("unknown database dialect")

// Migrate runs database migrations for a data library. The connection is left
// open for the caller.
func Migrate(conn *sql.DB, dialect string) error {
	migrationDir, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}

	var driver database.Driver
	switch dialect {
	case Postgres:
		driver, err = pgx.WithInstance(conn, &pgx.Config{})
	case SQLite:
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDialect, dialect)
	}
	if err != nil {
		return err
	}

	migration, err := migrate.NewWithInstance("iofs", migrationDir, dialect, driver)
	if err != nil {
		return err
	}

	err = migration.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}

	return err
}
