package dbsync

import (
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	log.SetLevel(log.DebugLevel)

	defer func() {
		if postgresContainer != nil {
			_ = postgresContainer.Close()
		}
		if mysqlContainer != nil {
			_ = mysqlContainer.Close()
		}
	}()

	return m.Run()
}
