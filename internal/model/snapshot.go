package model

// Balance is one custody balance.
type Balance struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Vault   bool   `json:"vault,omitempty"`
}

// Snapshot is the full exchange state persisted between CLI runs.
type Snapshot struct {
	Pools     []Pool    `json:"pools"`
	Balances  []Balance `json:"balances"`
	UpdatedAt string    `json:"updated_at"`
}

// ReconcileReport compares stored reserves with observed vault balances.
type ReconcileReport struct {
	PoolKey        string `json:"pool_key"`
	StoredReserveA uint64 `json:"stored_reserve_a"`
	StoredReserveB uint64 `json:"stored_reserve_b"`
	ObservedA      uint64 `json:"observed_a"`
	ObservedB      uint64 `json:"observed_b"`
	DriftA         string `json:"drift_a"`
	DriftB         string `json:"drift_b"`
	InSync         bool   `json:"in_sync"`
	CheckedAt      string `json:"checked_at"`
}
