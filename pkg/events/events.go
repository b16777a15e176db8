package events

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tresolabs/treso/pkg/crypto"
)

// Gossip topics the settlement venue subscribes to.
const (
	TopicOrderCreated   = "treso-order-created"
	TopicFundsRecovered = "treso-funds-recovered"
)

type Event interface {
	Topic() string
}

// OrderCreated is emitted once per placed order, carrying the handle and
// the full committed descriptor. Venues reconstruct and verify the
// fingerprint from the descriptor alone.
type OrderCreated struct {
	Order       common.Address
	Fingerprint common.Hash
	Descriptor  crypto.SettlementOrder
}

func (OrderCreated) Topic() string { return TopicOrderCreated }

// FundsRecovered is emitted when an expired order's balance moves back
// to the factory. Kept for auditability of every asset movement.
type FundsRecovered struct {
	Order     common.Address
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
}

func (FundsRecovered) Topic() string { return TopicFundsRecovered }

// Bus fans events out to in-process subscribers. Publish never blocks:
// a subscriber that falls behind loses events rather than stalling the
// settlement core.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, skip.
		}
	}
}
