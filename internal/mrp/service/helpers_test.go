package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type testEnv struct {
	ctx   context.Context
	db    *gorm.DB
	repos *repository.Repositories
	svc   *Services
	pub   *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	pub := &recordingPublisher{}
	return &testEnv{
		ctx:   context.Background(),
		db:    db,
		repos: repos,
		svc:   NewServices(repos, db, Options{Publisher: pub}),
		pub:   pub,
	}
}

var d = testutil.D

// item 通过服务创建物料（期初库存走台账）
func (e *testEnv) item(t *testing.T, sku, price, qty string) *entity.Item {
	t.Helper()
	it, err := e.svc.Item.CreateItem(e.ctx, &CreateItemRequest{
		Name:            "Item " + sku,
		SKU:             sku,
		UnitPrice:       d(price),
		InitialQuantity: d(qty),
	}, "tester")
	if err != nil {
		t.Fatalf("CreateItem(%s): %v", sku, err)
	}
	return it
}

func (e *testEnv) quantity(t *testing.T, itemID string) decimal.Decimal {
	t.Helper()
	it, err := e.repos.Item.FindByID(e.ctx, itemID)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", itemID, err)
	}
	return it.Quantity
}

// balanced 断言 库存缓存 == Σ流水
func (e *testEnv) balanced(t *testing.T, itemID string) *Reconciliation {
	t.Helper()
	rec, err := e.svc.Ledger.Reconcile(e.ctx, itemID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.Balanced {
		t.Fatalf("ledger out of balance: cached=%s sum=%s", rec.CachedQuantity, rec.LedgerSum)
	}
	return rec
}

func (e *testEnv) movements(t *testing.T, refType, refID string) []entity.StockMovement {
	t.Helper()
	ms, err := e.repos.Movement.FindByReference(e.ctx, refType, refID)
	if err != nil {
		t.Fatalf("FindByReference: %v", err)
	}
	return ms
}

func wantKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (%v)", got, kind, err)
	}
	e, _ := err.(*Error)
	return e
}

func wantDecimal(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}
