package sqliteutil

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

func code(err error) (sqlite3.ErrNo, sqlite3.ErrNoExtended, bool) {
	var e sqlite3.Error
	if errors.As(err, &e) {
		return e.Code, e.ExtendedCode, true
	}

	var pe *sqlite3.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Code, pe.ExtendedCode, true
	}

	return 0, 0, false
}

func IsUniqueViolation(err error) bool {
	if c, x, ok := code(err); ok {
		return c == sqlite3.ErrConstraint && (x == sqlite3.ErrConstraintUnique || x == sqlite3.ErrConstraintPrimaryKey)
	}

	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func IsForeignKeyViolation(err error) bool {
	if c, x, ok := code(err); ok {
		return c == sqlite3.ErrConstraint && x == sqlite3.ErrConstraintForeignKey
	}

	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func IsBusy(err error) bool {
	if c, _, ok := code(err); ok {
		return c == sqlite3.ErrBusy || c == sqlite3.ErrLocked
	}

	return err != nil && strings.Contains(err.Error(), "database is locked")
}
