/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package authdns

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/miekg/dns"
)

// DefaultTables holds the metadata store schema: TSIG key material and
// a durable record of the ACL entries currently in force, mirroring
// the operator-facing part of the teacher's KeyDB without the
// DNSSEC/SIG(0) signing tables that db.go previously carried.
var DefaultTables = map[string]string{
	"TsigKeys": `CREATE TABLE IF NOT EXISTS 'TsigKeys' (
id		  INTEGER PRIMARY KEY,
name		  TEXT,
algorithm	  TEXT,
secret		  TEXT,
comment		  TEXT,
UNIQUE (name)
)`,

	"AclEntries": `CREATE TABLE IF NOT EXISTS 'AclEntries' (
id		  INTEGER PRIMARY KEY,
zone		  TEXT,
match		  TEXT,
action		  TEXT,
verdict		  TEXT,
UNIQUE (zone, match, action)
)`,
}

// MetaDB is the sqlite-backed store for TSIG keys and ACL entries
// (§3 domain stack: mattn/go-sqlite3), separate from the in-memory
// Zone/Registry the query engine reads from.
type MetaDB struct {
	DB *sql.DB
	mu sync.Mutex
}

func (db *MetaDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.Query(query, args...)
}

func (db *MetaDB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRow(query, args...)
}

func (db *MetaDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.DB.Exec(query, args...)
}

func (db *MetaDB) Close() error {
	return db.DB.Close()
}

func dbSetupTables(db *sql.DB) error {
	if Globals.Verbose {
		log.Printf("dbSetupTables: creating missing tables")
	}
	for t, schema := range DefaultTables {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("dbSetupTables: schema %s: %w", t, err)
		}
	}
	return nil
}

// NewMetaDB opens (creating if absent) the sqlite metadata store at
// dbfile and ensures its tables exist.
func NewMetaDB(dbfile string) (*MetaDB, error) {
	if dbfile == "" {
		return nil, fmt.Errorf("NewMetaDB: db filename unspecified")
	}
	if _, err := os.Stat(dbfile); err == nil {
		if err := os.Chmod(dbfile, 0664); err != nil {
			return nil, fmt.Errorf("NewMetaDB: ensuring %s writable: %w", dbfile, err)
		}
	}
	db, err := sql.Open("sqlite3", dbfile)
	if err != nil {
		return nil, fmt.Errorf("NewMetaDB: sql.Open: %w", err)
	}
	if err := dbSetupTables(db); err != nil {
		return nil, err
	}
	return &MetaDB{DB: db}, nil
}

// TSIGSecrets loads every registered key into the name->secret map
// shape dns.Server.TsigSecret expects, for DnsEngine to hand to
// miekg/dns's built-in TSIG verification at startup.
func (db *MetaDB) TSIGSecrets() (map[string]string, error) {
	rows, err := db.Query(`SELECT name, secret FROM TsigKeys`)
	if err != nil {
		return nil, fmt.Errorf("TSIGSecrets: %w", err)
	}
	defer rows.Close()

	secrets := make(map[string]string)
	for rows.Next() {
		var name, secret string
		if err := rows.Scan(&name, &secret); err != nil {
			return nil, fmt.Errorf("TSIGSecrets: scan: %w", err)
		}
		secrets[dns.Fqdn(name)] = secret
	}
	return secrets, rows.Err()
}

// PersistACL replaces the stored ACL entries for zone with entries.
func (db *MetaDB) PersistACL(zone string, entries []ACLEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	tx, err := db.DB.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM AclEntries WHERE zone = ?`, zone); err != nil {
		tx.Rollback()
		return err
	}
	for _, e := range entries {
		if _, err := tx.Exec(`INSERT INTO AclEntries (zone, match, action, verdict) VALUES (?, ?, ?, ?)`,
			zone, e.Match, string(e.Action), string(e.Verdict)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
