package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"

	"github.com/jingkai27/payments-dashboard/internal/cache"

	"github.com/jingkai27/payments-dashboard/config"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

// NewDataSource opens the connection and applies the embedded schema.
// Every caller gets its own handle; nothing here is process-global.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con}, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = applySchema(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// applySchema executes the embedded DDL files in lexical order. Every
// statement is IF NOT EXISTS, so reconnecting is harmless.
func applySchema(db *sql.DB) error {
	entries, err := fs.ReadDir(schemaFiles, "sql")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := schemaFiles.ReadFile("sql/" + entry.Name())
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("applying %s: %w", entry.Name(), err)
		}
	}
	return nil
}
