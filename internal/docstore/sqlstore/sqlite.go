package sqlstore

import (
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriver is the database/sql driver Open uses for Config.Driver
// "sqlite3". It is mattn/go-sqlite3 with foldFunc registered on every
// connection, since the built-in lower() and LIKE only fold ASCII.
const SQLiteDriver = "librarium_sqlite3"

const foldFunc = "doc_fold"

func init() {
	sql.Register(SQLiteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(foldFunc, fold, true)
		},
	})
}

// fold lower-cases text the way docstore.ContainsFoldFilter does. Anything
// that is not text folds to the empty string.
func fold(v any) string {
	switch s := v.(type) {
	case string:
		return strings.ToLower(s)
	case []byte:
		return strings.ToLower(string(s))
	}
	return ""
}

// driverName maps the configured driver to the one registered with
// database/sql.
func driverName(driver string) string {
	if driver == "sqlite3" {
		return SQLiteDriver
	}
	return driver
}
