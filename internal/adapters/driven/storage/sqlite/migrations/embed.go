// Package migrations embeds SQL migration files for the SQLite stores.
//
// Each database file has its own directory of NNN_name.up.sql files.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed documents/*.sql pending/*.sql vectors/*.sql
var all embed.FS

// Documents returns migrations for documents.db.
func Documents() fs.FS { return sub("documents") }

// Pending returns migrations for pending.db.
func Pending() fs.FS { return sub("pending") }

// Vectors returns migrations for vectors.db.
func Vectors() fs.FS { return sub("vectors") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(all, dir)
	if err != nil {
		panic(err)
	}
	return f
}
