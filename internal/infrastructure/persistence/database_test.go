package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/billing/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockDatabase creates a Database backed by sqlmock with the postgres dialector.
func newMockDatabase(t *testing.T, monitorPings bool) (*Database, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(monitorPings))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return &Database{DB: gormDB}, mock, mockDB
}

func TestNewDatabase_Unreachable(t *testing.T) {
	_, err := NewDatabase(config.DatabaseConfig{
		Host:         "127.0.0.1",
		Port:         1,
		User:         "billing",
		DBName:       "billing",
		SSLMode:      "disable",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, DatabaseOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}

func TestDatabase_Ping(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t, true)
	defer mockDB.Close()

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.ErrorIs(t, db.Ping(context.Background()), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Stats(t *testing.T) {
	db, _, mockDB := newMockDatabase(t, false)
	defer mockDB.Close()
	mockDB.SetMaxOpenConns(7)

	stats, err := db.Stats()

	require.NoError(t, err)
	assert.Equal(t, 7, stats.MaxOpenConnections)
	assert.Equal(t, stats.OpenConnections, stats.InUse+stats.Idle)
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := newMockDatabase(t, false)

	mock.ExpectClose()
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
