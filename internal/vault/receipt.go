package vault

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Op names a state-changing vault operation.
type Op string

const (
	OpInitialize   Op = "initialize"
	OpDeposit      Op = "deposit"
	OpRedeem       Op = "redeem"
	OpClaimRewards Op = "claim_rewards"
	OpSetOwner     Op = "set_owner"
)

// Receipt records the outcome of a successful operation
type Receipt struct {
	ID        uuid.UUID      `json:"id"`
	Op        Op             `json:"op"`
	Caller    common.Address `json:"caller"`
	Amount    string         `json:"amount,omitempty"`
	Shares    string         `json:"shares,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Logs      []*types.Log   `json:"logs"`
}

// ReceiptStore keeps receipts in memory, in insertion order
type ReceiptStore struct {
	receipts map[uuid.UUID]*Receipt
	order    []uuid.UUID
	mu       sync.RWMutex
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[uuid.UUID]*Receipt),
	}
}

func (s *ReceiptStore) AddReceipt(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.receipts[r.ID] = r.DeepCopy()
}

func (s *ReceiptStore) GetReceipt(id uuid.UUID) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[id].DeepCopy()
}

// Logs returns every stored log in emission order, optionally filtered by
// event topic. A zero topic matches all events.
func (s *ReceiptStore) Logs(topic common.Hash) []*types.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Log
	for _, id := range s.order {
		for _, log := range s.receipts[id].Logs {
			if log == nil {
				continue
			}
			if topic != (common.Hash{}) && (len(log.Topics) == 0 || log.Topics[0] != topic) {
				continue
			}
			out = append(out, copyLog(log))
		}
	}
	return out
}

func (s *ReceiptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// DeepCopy creates a deep copy of the Receipt
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}

	result := &Receipt{
		ID:        r.ID,
		Op:        r.Op,
		Caller:    r.Caller,
		Amount:    r.Amount,
		Shares:    r.Shares,
		Timestamp: r.Timestamp,
	}
	if r.Logs != nil {
		result.Logs = make([]*types.Log, len(r.Logs))
		for i, log := range r.Logs {
			result.Logs[i] = copyLog(log)
		}
	}
	return result
}

func copyLog(log *types.Log) *types.Log {
	if log == nil {
		return nil
	}
	logCopy := *log
	if log.Topics != nil {
		logCopy.Topics = make([]common.Hash, len(log.Topics))
		copy(logCopy.Topics, log.Topics)
	}
	if log.Data != nil {
		logCopy.Data = make([]byte, len(log.Data))
		copy(logCopy.Data, log.Data)
	}
	return &logCopy
}
