package logging

import (
	"relkit/pkg/primitives"

	"github.com/sirupsen/logrus"
)

// WithComponent creates a logger entry tagged with the originating
// component ("buffer.Pool", "lock.Manager", ...).
func WithComponent(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}

// WithTxn creates a logger entry carrying a transaction id.
//
// Example:
//
//	log := logging.WithTxn(txn.ID())
//	log.Info("lock granted")
func WithTxn(id primitives.TxnID) *logrus.Entry {
	return GetLogger().WithField("txn_id", id)
}

// WithPage creates a logger entry carrying a page id. Used by the buffer
// pool.
func WithPage(pid primitives.PageID) *logrus.Entry {
	return GetLogger().WithField("page_id", pid)
}

// WithIndex creates a logger entry carrying an index name.
func WithIndex(name string) *logrus.Entry {
	return GetLogger().WithField("index", name)
}
