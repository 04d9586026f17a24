package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"os/exec"
	"testing"

	"easyswitch/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver hands out connections whose Ping returns pingErr.
type fakeDriver struct {
	pingErr error
	dsn     string
}

func (d *fakeDriver) Open(dsn string) (driver.Conn, error) {
	d.dsn = dsn
	return &fakeConn{pingErr: d.pingErr}, nil
}

type fakeConn struct{ pingErr error }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c *fakeConn) Ping(context.Context) error          { return c.pingErr }

var (
	healthyDriver = &fakeDriver{}
	downDriver    = &fakeDriver{pingErr: errors.New("connection refused")}
)

func init() {
	sql.Register("easyswitch_healthy", healthyDriver)
	sql.Register("easyswitch_down", downDriver)
}

func testConfig() *config.Config {
	return &config.Config{
		DBHost:     "db.internal",
		DBUser:     "gateway",
		DBPassword: "s3cret",
		DBName:     "payments",
		DBPort:     "5433",
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		sslMode string
		want    string
	}{
		{"default sslmode", "", "host=db.internal user=gateway password=s3cret dbname=payments port=5433 sslmode=disable"},
		{"explicit sslmode", "verify-full", "host=db.internal user=gateway password=s3cret dbname=payments port=5433 sslmode=verify-full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.DBSSLMode = tt.sslMode
			assert.Equal(t, tt.want, buildDSN(cfg))
		})
	}
}

func TestNewDatabase(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		cfg := testConfig()
		db, err := newDatabaseWithDriver(cfg, "easyswitch_healthy")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		assert.Equal(t, buildDSN(cfg), healthyDriver.dsn)
		assert.Equal(t, 25, db.Stats().MaxOpenConnections)
	})

	t.Run("ping fails", func(t *testing.T) {
		db, err := newDatabaseWithDriver(testConfig(), "easyswitch_down")
		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "failed to ping DB")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("unknown driver", func(t *testing.T) {
		db, err := newDatabaseWithDriver(testConfig(), "no_such_driver")
		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "failed to connect to DB")
	})

	t.Run("postgres unreachable", func(t *testing.T) {
		cfg := testConfig()
		cfg.DBHost = "invalid_host.invalid"

		db, err := NewDatabase(cfg)
		require.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestInitDB_Failure(t *testing.T) {
	// InitDB exits the process, so it runs in a child test binary.
	if os.Getenv("EASYSWITCH_DB_CRASHER") == "1" {
		cfg := testConfig()
		cfg.DBHost = "invalid_host.invalid"
		InitDB(cfg)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestInitDB_Failure")
	cmd.Env = append(os.Environ(), "EASYSWITCH_DB_CRASHER=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Success() {
		return
	}
	t.Fatalf("process ran with err %v, want exit status 1", err)
}
