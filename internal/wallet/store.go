// Package wallet is the prepaid balance ledger and the wallet payment path built on it.
package wallet

import (
	"context"
	"errors"
	"sort"
	"sync"

	"pedix/internal/domain"
	"pedix/internal/models"
)

// ErrVersionConflict means another writer changed the wallet or reservation first. The
// ledger reloads and retries.
var ErrVersionConflict = errors.New("wallet: version conflict")

// Mutation is one ledger write, applied atomically or not at all.
type Mutation struct {
	Wallet models.Wallet
	// Create inserts Wallet; otherwise the stored version must equal ExpectedVersion.
	Create          bool
	ExpectedVersion int64
	Tx              models.WalletTransaction
	// Reservation is upserted when set. An empty ExpectedReservationStatus means the
	// reservation must not exist yet.
	Reservation               *models.WalletReservation
	ExpectedReservationStatus string
}

type Store interface {
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	GetReservation(ctx context.Context, orderID string) (*models.WalletReservation, error)
	Apply(ctx context.Context, m Mutation) error
	Transactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error)
}

type MemoryStore struct {
	mu           sync.Mutex
	wallets      map[string]models.Wallet
	reservations map[string]models.WalletReservation
	txs          []models.WalletTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]models.Wallet),
		reservations: make(map[string]models.WalletReservation),
	}
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "wallet", ID: userID}
	}
	return &w, nil
}

func (s *MemoryStore) GetReservation(_ context.Context, orderID string) (*models.WalletReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[orderID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "wallet reservation", ID: orderID}
	}
	return &r, nil
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.wallets[m.Wallet.UserID]
	if m.Create && exists {
		return ErrVersionConflict
	}
	if !m.Create && (!exists || cur.Version != m.ExpectedVersion) {
		return ErrVersionConflict
	}
	if m.Reservation != nil {
		r, ok := s.reservations[m.Reservation.OrderID]
		if m.ExpectedReservationStatus == "" && ok {
			return ErrVersionConflict
		}
		if m.ExpectedReservationStatus != "" && (!ok || r.Status != m.ExpectedReservationStatus) {
			return ErrVersionConflict
		}
		s.reservations[m.Reservation.OrderID] = *m.Reservation
	}
	s.wallets[m.Wallet.UserID] = m.Wallet
	s.txs = append(s.txs, m.Tx)
	return nil
}

// Transactions returns the newest first.
func (s *MemoryStore) Transactions(_ context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WalletTransaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
