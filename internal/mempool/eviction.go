package mempool

import (
	"fmt"

	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/pkg/tx"
)

// makeRoom frees capacity for an incoming entry. Expired entries go first;
// after that the lowest fee rate is evicted, but only while the newcomer
// outbids it. Caller holds the lock.
func (p *Pool) makeRoom(e *entry) error {
	if !p.overCapacity(e) {
		return nil
	}
	p.expireLocked()

	for p.overCapacity(e) {
		victim := p.cheapest()
		if victim == nil || victim.feeRate >= e.feeRate {
			return fmt.Errorf("%w: %d txs, %d bytes", ErrPoolFull, len(p.entries), p.bytes)
		}
		p.drop(victim)
		log.Mempool.Debug().
			Stringer("tx", victim.id).
			Float64("fee_rate", victim.feeRate).
			Msg("evicted for a better-paying transaction")
	}
	return nil
}

// overCapacity reports whether adding e would breach a pool bound.
// Caller holds the lock.
func (p *Pool) overCapacity(e *entry) bool {
	return len(p.entries)+1 > p.cfg.MaxTxs || p.bytes+e.size > p.cfg.MaxBytes
}

// cheapest returns the entry with the lowest fee rate, oldest first on
// ties. Caller holds the lock.
func (p *Pool) cheapest() *entry {
	var victim *entry
	for _, e := range p.entries {
		if victim == nil ||
			e.feeRate < victim.feeRate ||
			(e.feeRate == victim.feeRate && e.seq < victim.seq) {
			victim = e
		}
	}
	return victim
}

// Expire drops entries older than the configured maximum age and returns
// how many were dropped.
func (p *Pool) Expire() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expireLocked()
}

func (p *Pool) expireLocked() int {
	cutoff := p.now().Add(-p.cfg.MaxAge)
	var expired []*entry
	for _, e := range p.entries {
		if e.arrived.Before(cutoff) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		p.drop(e)
	}
	if len(expired) > 0 {
		log.Mempool.Info().Int("count", len(expired)).Msg("expired stale transactions")
	}
	return len(expired)
}

// Reinsert re-admits transactions orphaned by a reorg. Failures are
// expected (the new chain may have invalidated them) and are dropped
// silently.
func (p *Pool) Reinsert(txs []*tx.Transaction) int {
	readmitted := 0
	for _, t := range txs {
		if t.IsCoinbase() {
			continue
		}
		if err := p.Add(t); err == nil {
			readmitted++
		}
	}
	return readmitted
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	Count      int     `json:"count"`
	Bytes      int     `json:"bytes"`
	MinFeeRate float64 `json:"min_fee_rate"`
	MaxFeeRate float64 `json:"max_fee_rate"`
	TotalFees  uint64  `json:"total_fees"`
}

// Stats returns a summary of the pool contents.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Count: len(p.entries), Bytes: p.bytes}
	first := true
	for _, e := range p.entries {
		s.TotalFees += e.fee
		if first || e.feeRate < s.MinFeeRate {
			s.MinFeeRate = e.feeRate
		}
		if first || e.feeRate > s.MaxFeeRate {
			s.MaxFeeRate = e.feeRate
		}
		first = false
	}
	return s
}

// Content returns the pooled transactions in fee-priority order. Read-only
// view for inspection endpoints and tests.
func (p *Pool) Content() []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := p.sortedEntries()
	out := make([]*tx.Transaction, len(ordered))
	for i, e := range ordered {
		out[i] = e.tx
	}
	return out
}
