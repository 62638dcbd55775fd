package badger

import (
	"fmt"

	"github.com/poiesic/conduit/core"
)

// Key prefixes for different data types
const (
	queueRecordPrefix = "uplque"
)

// makeQueueRecordKey generates a key for a queue record by its user/name key.
func makeQueueRecordKey(userID, name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", queueRecordPrefix, core.QueueKey(userID, name)))
}
