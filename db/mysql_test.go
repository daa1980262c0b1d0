package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/ory/dockertest/v3"
	"go.uber.org/zap"
	"gotest.tools/assert"
)

func SetupMySQL(t *testing.T) *mysqlDB {
	t.Helper()
	dPool := newDockerPool(t)
	res, err := dPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0",
		Env:        []string{"MYSQL_ROOT_PASSWORD=secret", "MYSQL_DATABASE=ledger"},
	}, autoRemove)
	assert.NilError(t, err)
	t.Cleanup(func() {
		if err := dPool.Purge(res); err != nil {
			t.Logf("could not purge mysql: %v", err)
		}
	})
	assert.NilError(t, res.Expire(180))

	var store *mysqlDB
	err = dPool.Retry(func() error {
		cfg := Config{
			DbAdapter: MySQL,
			DbName:    "ledger",
			URL:       fmt.Sprintf("root:secret@(localhost:%s)/ledger", res.GetPort("3306/tcp")),
			MinConn:   1,
			MaxConn:   8,
			Logger:    zap.NewNop(),
		}
		var err error
		store, err = newMySQL(cfg)
		return err
	})
	assert.NilError(t, err)
	return store
}

func TestMySQL_Client(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mysql container in short mode")
	}
	store := SetupMySQL(t)
	defer store.Close(context.Background())

	runClientSuite(t, store)
}

func TestEnsureParam(t *testing.T) {
	assert.Equal(t, ensureParam("u@/db", "parseTime", "true"), "u@/db?parseTime=true")
	assert.Equal(t, ensureParam("u@/db?x=1", "parseTime", "true"), "u@/db?x=1&parseTime=true")
	assert.Equal(t, ensureParam("u@/db?parseTime=false", "parseTime", "true"), "u@/db?parseTime=false")
}
