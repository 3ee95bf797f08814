package leveldb

import (
	"testing"

	"github.com/neva-network/gneva/nevadb"
	"github.com/neva-network/gneva/nevadb/dbtest"
)

func TestLevelDB(t *testing.T) {
	t.Run("StoreSuite", func(t *testing.T) {
		dbtest.TestStoreSuite(t, func() nevadb.Store {
			db, err := NewInMemory()
			if err != nil {
				t.Fatal(err)
			}
			return db
		})
	})
}
