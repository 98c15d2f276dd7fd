package database

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers inspected by the repositories and the tenant manager.
const (
	errDatabaseExists  = 1007
	errUnknownDatabase = 1049
	errDuplicateEntry  = 1062
)

func hasNumber(err error, n uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == n
}

// IsDuplicate reports a unique key violation.
func IsDuplicate(err error) bool { return hasNumber(err, errDuplicateEntry) }

// IsUnknownDatabase reports that the schema named in the DSN does not exist.
func IsUnknownDatabase(err error) bool { return hasNumber(err, errUnknownDatabase) }

// IsDatabaseExists reports a CREATE DATABASE on an existing schema.
func IsDatabaseExists(err error) bool { return hasNumber(err, errDatabaseExists) }
