package database

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation  = "23505"
	myDuplicateEntry   = 1062
	myLockWaitTimeout  = 1205
	myDeadlock         = 1213
	pgSerialization    = "40001"
	pgDeadlockDetected = "40P01"
	pgLockNotAvailable = "55P03"
)

func vendorCodes(err error) (pgCode string, myNumber uint16) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		pgCode = pgErr.Code
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil {
		myNumber = myErr.Number
	}
	return pgCode, myNumber
}

// IsUniqueViolation reports a duplicate key on any supported dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	pgCode, myNumber := vendorCodes(err)
	if pgCode == pgUniqueViolation || myNumber == myDuplicateEntry {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") || strings.Contains(lower, "duplicate")
}

// IsContention reports a failure caused by another writer holding the rows:
// deadlocks, serialization failures, lock timeouts and a busy SQLite file.
// Such a write can be retried later without operator action.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode, myNumber := vendorCodes(err); {
	case pgCode == pgSerialization, pgCode == pgDeadlockDetected, pgCode == pgLockNotAvailable:
		return true
	case myNumber == myLockWaitTimeout, myNumber == myDeadlock:
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "database is locked") || strings.Contains(lower, "database table is locked")
}
