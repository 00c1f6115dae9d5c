package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/m3rciful/featurebot/migrations"
)

func TestUpFilesEmbedded(t *testing.T) {
	files := upFiles(migrations.FS)
	assert.Equal(t, []string{"0001_documents.up.sql"}, files)
}

func TestBetween(t *testing.T) {
	files := []string{"0001_a.up.sql", "0002_b.up.sql", "0003_c.up.sql"}
	assert.Equal(t, []string{"0002_b.up.sql", "0003_c.up.sql"}, between(files, 1, 3))
	assert.Empty(t, between(files, 3, 3))
	assert.Equal(t, uint64(2), version("0002_b.up.sql"))
}

func TestResolveDrivers(t *testing.T) {
	driver, dsn, err := resolve(Config{Driver: DriverSQLite, Path: t.TempDir() + "/bot.db"})
	assert.NoError(t, err)
	assert.Equal(t, DriverSQLite, driver)
	assert.Contains(t, dsn, "_pragma=busy_timeout(5000)")

	driver, dsn, err = resolve(Config{Driver: DriverPostgres, User: "u", Password: "p", Host: "h", Port: "5432", Name: "n", SSLMode: "disable"})
	assert.NoError(t, err)
	assert.Equal(t, DriverPostgres, driver)
	assert.Equal(t, "user=u password=p host=h port=5432 dbname=n sslmode=disable", dsn)

	_, _, err = resolve(Config{Driver: "mysql"})
	assert.Error(t, err)
}
