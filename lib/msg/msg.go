// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
)

// MsgBroker publishes newly aggregated transfers so downstream consumers, the
// payment reconciler among them, do not have to poll the dashboard.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// SendTrans publishes the transfers seen for the first time on chain.
	SendTrans(chain string, txs []types.Transaction) error
	// GetEvents consumes published transfers for the given chain.
	GetEvents(chain string, mut *sync.Mutex) (<-chan types.Transaction, <-chan error, error)
}
