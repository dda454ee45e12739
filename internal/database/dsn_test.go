package database

import (
	"path/filepath"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestPostgresDSNDefaults(t *testing.T) {
	dsn, err := postgresDSN(Config{User: "matchdispatch", Name: "matchdispatch"})
	require.NoError(t, err)
	require.Equal(t, "TimeZone=UTC dbname=matchdispatch host=localhost port=5432 sslmode=disable user=matchdispatch", dsn)
}

func TestPostgresDSNParsesBack(t *testing.T) {
	dsn, err := postgresDSN(Config{
		User:     "dispatch",
		Name:     "notifications",
		Host:     "db.example.com",
		Port:     6543,
		Password: "it's a secret",
		Options:  map[string]string{"sslmode": "require", "search_path": "public"},
	})
	require.NoError(t, err)

	parsed, err := pgconn.ParseConfig(dsn)
	require.NoError(t, err)
	require.Equal(t, "db.example.com", parsed.Host)
	require.Equal(t, uint16(6543), parsed.Port)
	require.Equal(t, "dispatch", parsed.User)
	require.Equal(t, "notifications", parsed.Database)
	require.Equal(t, "it's a secret", parsed.Password)
	require.Equal(t, "public", parsed.RuntimeParams["search_path"])
}

func TestPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := postgresDSN(Config{})
	require.Error(t, err)
}

func TestMySQLDSNDefaults(t *testing.T) {
	dsn, err := mysqlDSN(Config{User: "matchdispatch", Name: "matchdispatch"})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:3306", parsed.Addr)
	require.Equal(t, "matchdispatch", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Equal(t, time.UTC, parsed.Loc)
	require.Equal(t, "utf8mb4", parsed.Params["charset"])
}

func TestMySQLDSNOptions(t *testing.T) {
	dsn, err := mysqlDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "charset": "utf8"},
	})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "user", parsed.User)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "skip-verify", parsed.TLSConfig)
	require.Equal(t, "utf8", parsed.Params["charset"])
	require.True(t, parsed.ParseTime)
}

func TestMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := mysqlDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestSQLiteDSNCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dispatch.db")

	dsn, err := sqliteDSN(Config{Path: path})
	require.NoError(t, err)
	require.Contains(t, dsn, "_journal_mode=WAL")
	require.DirExists(t, filepath.Dir(path))

	memory, err := sqliteDSN(Config{Path: ":memory:"})
	require.NoError(t, err)
	require.Contains(t, memory, "file::memory:")
}
