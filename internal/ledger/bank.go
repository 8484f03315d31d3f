package ledger

import "sync"

// Bank is the external fund-movement boundary. Implementations perform the
// actual transfer to a participant's account; the ledger only ever does
// bookkeeping. A failed transfer must leave no partial effect.
type Bank interface {
	Transfer(identity string, amount uint64) error
}

// MemoryBank is an in-process Bank that credits per-identity accounts. It
// backs the standalone server and tests; a deployment against a real payment
// rail supplies its own Bank.
type MemoryBank struct {
	mu       sync.Mutex
	accounts map[string]uint64
}

// NewMemoryBank creates an empty in-memory bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{accounts: make(map[string]uint64)}
}

// Transfer credits the identity's account.
func (b *MemoryBank) Transfer(identity string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[identity] += amount
	return nil
}

// BalanceOf returns the identity's received funds.
func (b *MemoryBank) BalanceOf(identity string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[identity]
}
