package storage

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tresolabs/treso/pkg/events"
)

// OrderRecord is the persisted form of one placed order.
type OrderRecord struct {
	Address     common.Address
	Fingerprint common.Hash
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	BuyAmount   *big.Int
	Deadline    int64 // Unix seconds
	CreatedAt   int64
}

// AuditEvent is an append-only record of an asset movement or placement.
type AuditEvent struct {
	Seq       uint64
	Kind      string // events topic name
	Order     common.Address
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
	At        int64
}

// Journal persists placed orders and audit events to pebble. It exists
// for auditability; the settlement core never reads it back on the hot
// path, so write failures are surfaced but do not abort placements.
type Journal struct {
	db  *pebble.DB
	log *zap.SugaredLogger

	mu  sync.Mutex
	seq uint64
}

// keys: o:<20-byte order addr>, e:<8-byte big-endian seq>
func kOrder(addr common.Address) []byte { return append([]byte("o:"), addr.Bytes()...) }
func kEvent(seq uint64) []byte          { return append([]byte("e:"), seqKey(seq)...) }

func NewJournal(path string, log *zap.SugaredLogger) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db, log: log}
	if err := j.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// loadSeq resumes the event sequence from the highest persisted key.
func (j *Journal) loadSeq() error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("e:"),
		UpperBound: []byte("e;"),
	})
	if err != nil {
		return fmt.Errorf("scan events: %w", err)
	}
	defer iter.Close()
	if iter.Last() {
		var ev AuditEvent
		if err := decodeGob(iter.Value(), &ev); err != nil {
			return fmt.Errorf("decode last event: %w", err)
		}
		j.seq = ev.Seq
	}
	return nil
}

func (j *Journal) SaveOrder(rec OrderRecord) error {
	val, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode order record: %w", err)
	}
	if err := j.db.Set(kOrder(rec.Address), val, pebble.Sync); err != nil {
		return fmt.Errorf("save order record: %w", err)
	}
	return nil
}

func (j *Journal) GetOrder(addr common.Address) (OrderRecord, bool, error) {
	val, closer, err := j.db.Get(kOrder(addr))
	if err != nil {
		if err == pebble.ErrNotFound {
			return OrderRecord{}, false, nil
		}
		return OrderRecord{}, false, fmt.Errorf("get order record: %w", err)
	}
	defer closer.Close()
	var rec OrderRecord
	if err := decodeGob(val, &rec); err != nil {
		return OrderRecord{}, false, fmt.Errorf("decode order record: %w", err)
	}
	return rec, true, nil
}

func (j *Journal) AppendEvent(ev AuditEvent) error {
	j.mu.Lock()
	j.seq++
	ev.Seq = j.seq
	j.mu.Unlock()

	val, err := encodeGob(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if err := j.db.Set(kEvent(ev.Seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Events returns all audit events in sequence order.
func (j *Journal) Events() ([]AuditEvent, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("e:"),
		UpperBound: []byte("e;"),
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	defer iter.Close()

	var out []AuditEvent
	for iter.First(); iter.Valid(); iter.Next() {
		var ev AuditEvent
		if err := decodeGob(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Consume drains a bus subscription into the journal until ctx ends.
func (j *Journal) Consume(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			j.record(ev)
		}
	}
}

func (j *Journal) record(ev events.Event) {
	now := time.Now().Unix()
	var err error
	switch e := ev.(type) {
	case events.OrderCreated:
		err = j.SaveOrder(OrderRecord{
			Address:     e.Order,
			Fingerprint: e.Fingerprint,
			SellToken:   e.Descriptor.SellToken,
			BuyToken:    e.Descriptor.BuyToken,
			SellAmount:  e.Descriptor.SellAmount,
			BuyAmount:   e.Descriptor.BuyAmount,
			Deadline:    int64(e.Descriptor.ValidTo),
			CreatedAt:   now,
		})
		if err == nil {
			err = j.AppendEvent(AuditEvent{
				Kind:   ev.Topic(),
				Order:  e.Order,
				Token:  e.Descriptor.SellToken,
				Amount: e.Descriptor.SellAmount,
				At:     now,
			})
		}
	case events.FundsRecovered:
		err = j.AppendEvent(AuditEvent{
			Kind:      ev.Topic(),
			Order:     e.Order,
			Token:     e.Token,
			Recipient: e.Recipient,
			Amount:    e.Amount,
			At:        now,
		})
	}
	if err != nil && j.log != nil {
		j.log.Errorw("journal_write_failed", "topic", ev.Topic(), "err", err)
	}
}
