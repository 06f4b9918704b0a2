package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"huddle/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		driver string
		name   string
		err    bool
	}{
		{"postgres", "postgres", false},
		{"mysql", "mysql", false},
		{"sqlite", "sqlite", false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := Dialector(&config.Config{DBDriver: tt.driver, DBSQLitePath: ":memory:"})
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}

func TestConnect_SQLiteMigrates(t *testing.T) {
	db, err := Connect(&config.Config{Env: "test", DBDriver: "sqlite", DBSQLitePath: ":memory:"})
	require.NoError(t, err)

	for _, model := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(model), "%T should be migrated", model)
	}
	assert.True(t, db.Migrator().HasIndex("conversation_members", "idx_conversation_member"))
	assert.True(t, db.Migrator().HasIndex("message_reactions", "idx_message_reaction"))
}

func TestCustomGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	l := &CustomGormLogger{
		logger: slog.New(slog.NewTextHandler(&buf, nil)),
		Config: logger.Config{SlowThreshold: 10 * time.Millisecond, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true},
	}
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), sql, errors.New("boom"))
	assert.Contains(t, buf.String(), "GORM query error")

	buf.Reset()
	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "GORM slow query")

	buf.Reset()
	l.LogMode(logger.Silent).Trace(context.Background(), time.Now(), sql, errors.New("boom"))
	assert.Empty(t, buf.String())
}
