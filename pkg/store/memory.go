package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/models"
)

// MemoryStore keeps everything in process memory. Transactions run one at a
// time against a staged copy that replaces the live state on success. Writes
// outside a transaction also hold txMu, so none can land between a
// transaction's snapshot and its commit.
type MemoryStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	loans    map[uuid.UUID]models.Loan
	payments map[uuid.UUID][]models.Payment
	abonos   map[uuid.UUID][]models.Abono
}

func newMemState() *memState {
	return &memState{
		loans:    make(map[uuid.UUID]models.Loan),
		payments: make(map[uuid.UUID][]models.Payment),
		abonos:   make(map[uuid.UUID][]models.Abono),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, l := range s.loans {
		c.loans[id] = l
	}
	for id, ps := range s.payments {
		c.payments[id] = append([]models.Payment(nil), ps...)
	}
	for id, as := range s.abonos {
		c.abonos[id] = append([]models.Abono(nil), as...)
	}
	return c
}

func (m *MemoryStore) read() *memRepo {
	return &memRepo{s: m.state}
}

// write applies fn directly to the live state. Lock order is txMu then mu,
// the same as InTx.
func (m *MemoryStore) write(fn func(*memRepo) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.read())
}

func (m *MemoryStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return m.write(func(r *memRepo) error { return r.CreateLoan(ctx, loan) })
}

func (m *MemoryStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetLoan(ctx, id)
}

func (m *MemoryStore) ListLoansByOwner(ctx context.Context, ownerID string) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListLoansByOwner(ctx, ownerID)
}

func (m *MemoryStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	return m.write(func(r *memRepo) error { return r.UpdateLoan(ctx, loan) })
}

func (m *MemoryStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return m.write(func(r *memRepo) error { return r.DeleteLoan(ctx, id) })
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	return m.write(func(r *memRepo) error { return r.CreatePayment(ctx, p) })
}

func (m *MemoryStore) GetPaymentByNumber(ctx context.Context, loanID uuid.UUID, number int) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPaymentByNumber(ctx, loanID, number)
}

func (m *MemoryStore) CountPayments(ctx context.Context, loanID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountPayments(ctx, loanID)
}

func (m *MemoryStore) CreateAbono(ctx context.Context, a *models.Abono) error {
	return m.write(func(r *memRepo) error { return r.CreateAbono(ctx, a) })
}

func (m *MemoryStore) CountAbonos(ctx context.Context, loanID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountAbonos(ctx, loanID)
}

func (m *MemoryStore) GetLoanDetail(ctx context.Context, id uuid.UUID) (*models.LoanDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetLoanDetail(ctx, id)
}

// InTx stages fn's writes on a copy of the current state and publishes the
// copy only when fn succeeds.
func (m *MemoryStore) InTx(ctx context.Context, fn func(Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	staged := m.state.clone()
	m.mu.RUnlock()

	if err := fn(&memRepo{s: staged}); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = staged
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// memRepo implements Repository over a memState without locking.
type memRepo struct {
	s *memState
}

func (r *memRepo) CreateLoan(_ context.Context, loan *models.Loan) error {
	if _, ok := r.s.loans[loan.ID]; ok {
		return loanerr.Conflict("loan %s already exists", loan.ID)
	}
	r.s.loans[loan.ID] = *loan
	return nil
}

func (r *memRepo) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	l, ok := r.s.loans[id]
	if !ok {
		return nil, loanerr.NotFound("loan %s not found", id)
	}
	return &l, nil
}

func (r *memRepo) ListLoansByOwner(_ context.Context, ownerID string) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range r.s.loans {
		if l.OwnerID == ownerID {
			loans = append(loans, &l)
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].CreatedAt.Equal(loans[j].CreatedAt) {
			return loans[i].ID.String() < loans[j].ID.String()
		}
		return loans[i].CreatedAt.After(loans[j].CreatedAt)
	})
	return loans, nil
}

func (r *memRepo) UpdateLoan(_ context.Context, loan *models.Loan) error {
	if _, ok := r.s.loans[loan.ID]; !ok {
		return loanerr.NotFound("loan %s not found", loan.ID)
	}
	r.s.loans[loan.ID] = *loan
	return nil
}

func (r *memRepo) DeleteLoan(_ context.Context, id uuid.UUID) error {
	if _, ok := r.s.loans[id]; !ok {
		return loanerr.NotFound("loan %s not found", id)
	}
	delete(r.s.loans, id)
	delete(r.s.payments, id)
	delete(r.s.abonos, id)
	return nil
}

func (r *memRepo) CreatePayment(_ context.Context, p *models.Payment) error {
	if _, ok := r.s.loans[p.LoanID]; !ok {
		return loanerr.NotFound("loan %s not found", p.LoanID)
	}
	for _, existing := range r.s.payments[p.LoanID] {
		if existing.Number == p.Number {
			return loanerr.Conflict("payment %d already registered for loan %s", p.Number, p.LoanID)
		}
	}
	r.s.payments[p.LoanID] = append(r.s.payments[p.LoanID], *p)
	return nil
}

func (r *memRepo) GetPaymentByNumber(_ context.Context, loanID uuid.UUID, number int) (*models.Payment, error) {
	for _, p := range r.s.payments[loanID] {
		if p.Number == number {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *memRepo) CountPayments(_ context.Context, loanID uuid.UUID) (int, error) {
	return len(r.s.payments[loanID]), nil
}

func (r *memRepo) CreateAbono(_ context.Context, a *models.Abono) error {
	if _, ok := r.s.loans[a.LoanID]; !ok {
		return loanerr.NotFound("loan %s not found", a.LoanID)
	}
	r.s.abonos[a.LoanID] = append(r.s.abonos[a.LoanID], *a)
	return nil
}

func (r *memRepo) CountAbonos(_ context.Context, loanID uuid.UUID) (int, error) {
	return len(r.s.abonos[loanID]), nil
}

func (r *memRepo) GetLoanDetail(ctx context.Context, id uuid.UUID) (*models.LoanDetail, error) {
	loan, err := r.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}

	payments := append([]models.Payment{}, r.s.payments[id]...)
	sort.Slice(payments, func(i, j int) bool { return payments[i].Number < payments[j].Number })

	abonos := append([]models.Abono{}, r.s.abonos[id]...)
	sort.SliceStable(abonos, func(i, j int) bool { return abonos[i].AbonoDate.Before(abonos[j].AbonoDate) })

	return &models.LoanDetail{Loan: *loan, Payments: payments, Abonos: abonos}, nil
}
