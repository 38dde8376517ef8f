package kernel_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/projection"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/multitenancy"
)

// createItem and adjustStock are the two commands the inventoryItem
// aggregate below understands, standing in for a real ERP domain's
// command vocabulary for the purpose of exercising the kernel end to end.

type createItem struct {
	tenant    ids.TenantID
	aggregate ids.AggregateID
	name      string
	quantity  int
}

func (c createItem) TargetTenant() ids.TenantID       { return c.tenant }
func (c createItem) TargetAggregate() ids.AggregateID { return c.aggregate }

type adjustStock struct {
	tenant    ids.TenantID
	aggregate ids.AggregateID
	delta     int
}

func (c adjustStock) TargetTenant() ids.TenantID       { return c.tenant }
func (c adjustStock) TargetAggregate() ids.AggregateID { return c.aggregate }

type itemCreatedPayload struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type stockAdjustedPayload struct {
	Delta int `json:"delta"`
}

// inventoryItem tracks a single SKU's name and on-hand quantity, rejecting
// any adjustment that would push the quantity negative.
type inventoryItem struct {
	tenant   ids.TenantID
	id       ids.AggregateID
	name     string
	quantity int
	version  int64
	created  bool
}

func newInventoryItem() kernel.Aggregate { return &inventoryItem{} }

func (i *inventoryItem) AggregateType() string { return "InventoryItem" }
func (i *inventoryItem) Version() int64        { return i.version }
func (i *inventoryItem) Tenant() ids.TenantID  { return i.tenant }

func (i *inventoryItem) Apply(event kernel.StoredEvent) {
	i.tenant = event.TenantID
	i.id = event.AggregateID
	i.version = event.SequenceNumber

	switch event.EventType {
	case "ItemCreated":
		var p itemCreatedPayload
		_ = json.Unmarshal(event.Payload, &p)
		i.name = p.Name
		i.quantity = p.Quantity
		i.created = true
	case "StockAdjusted":
		var p stockAdjustedPayload
		_ = json.Unmarshal(event.Payload, &p)
		i.quantity += p.Delta
	}
}

func (i *inventoryItem) Handle(cmd kernel.Command) ([]kernel.UncommittedEvent, error) {
	switch c := cmd.(type) {
	case createItem:
		if i.created {
			return nil, &kernel.InvariantError{AggregateType: "InventoryItem", Rule: "item already created"}
		}
		payload, _ := json.Marshal(itemCreatedPayload{Name: c.name, Quantity: c.quantity})
		return []kernel.UncommittedEvent{{EventType: "ItemCreated", EventVersion: 1, Payload: payload}}, nil
	case adjustStock:
		if i.quantity+c.delta < 0 {
			return nil, &kernel.InvariantError{AggregateType: "InventoryItem", Rule: "quantity must not go negative"}
		}
		payload, _ := json.Marshal(stockAdjustedPayload{Delta: c.delta})
		return []kernel.UncommittedEvent{{EventType: "StockAdjusted", EventVersion: 1, Payload: payload}}, nil
	default:
		return nil, &kernel.ValidationError{Op: "Handle", Field: "cmd", Value: "unknown"}
	}
}

// inventoryStockRow is one read-model row of the inventory_stock
// projection: the current name and quantity for one (tenant, aggregate).
type inventoryStockRow struct {
	Name     string
	Quantity int
}

// inventoryStockProjection is an in-memory read model equivalent to an
// "inventory_stock" table keyed by (tenant_id, aggregate_id).
type inventoryStockProjection struct {
	mu   sync.Mutex
	rows map[ids.TenantID]map[ids.AggregateID]inventoryStockRow
}

func newInventoryStockProjection() *inventoryStockProjection {
	return &inventoryStockProjection{rows: make(map[ids.TenantID]map[ids.AggregateID]inventoryStockRow)}
}

func (p *inventoryStockProjection) Name() string { return "inventory_stock" }

func (p *inventoryStockProjection) Apply(ctx context.Context, envelope kernel.StoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenantRows, ok := p.rows[envelope.TenantID]
	if !ok {
		tenantRows = make(map[ids.AggregateID]inventoryStockRow)
		p.rows[envelope.TenantID] = tenantRows
	}
	row := tenantRows[envelope.AggregateID]

	switch envelope.EventType {
	case "ItemCreated":
		var p2 itemCreatedPayload
		if err := json.Unmarshal(envelope.Payload, &p2); err != nil {
			return fmt.Errorf("inventory_stock: decoding %s: %w: %v", envelope.EventType, kernel.ErrProjectionDeserialize, err)
		}
		row.Name = p2.Name
		row.Quantity = p2.Quantity
	case "StockAdjusted":
		var p2 stockAdjustedPayload
		if err := json.Unmarshal(envelope.Payload, &p2); err != nil {
			return fmt.Errorf("inventory_stock: decoding %s: %w: %v", envelope.EventType, kernel.ErrProjectionDeserialize, err)
		}
		row.Quantity += p2.Delta
	}

	tenantRows[envelope.AggregateID] = row
	return nil
}

func (p *inventoryStockProjection) Reset(ctx context.Context, tenant ids.TenantID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rows, tenant)
	return nil
}

func (p *inventoryStockProjection) row(tenant ids.TenantID, aggregate ids.AggregateID) inventoryStockRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows[tenant][aggregate]
}

var _ = Describe("Inventory kernel acceptance scenarios", func() {
	var (
		ctx       context.Context
		es        *store.InMemoryEventStore
		dispatch  *kernel.Dispatcher
		proj      *inventoryStockProjection
		runner    *projection.Runner
		tenantOne ids.TenantID
		tenantTwo ids.TenantID
		itemA1    ids.AggregateID
	)

	BeforeEach(func() {
		ctx = context.Background()
		es = store.NewInMemoryEventStore()
		dispatch = kernel.NewDispatcher(es, nil, newInventoryItem)
		proj = newInventoryStockProjection()
		runner = projection.NewRunner(es, projection.NewInMemoryCursorStore(), projection.NewInMemoryDeadLetterStore(), proj)

		tenantOne, _ = ids.NewTenantID()
		tenantTwo, _ = ids.NewTenantID()
		itemA1, _ = ids.NewAggregateID()
	})

	applyAndProject := func(stored []kernel.StoredEvent) {
		for _, e := range stored {
			Expect(runner.ApplyEnvelope(ctx, e)).To(Succeed())
		}
	}

	It("scenario 1: creates Widget with quantity 100", func() {
		stored, err := dispatch.Dispatch(ctx, createItem{tenant: tenantOne, aggregate: itemA1, name: "Widget", quantity: 100})
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(1))
		Expect(stored[0].SequenceNumber).To(Equal(int64(1)))
		Expect(stored[0].EventType).To(Equal("ItemCreated"))

		applyAndProject(stored)
		row := proj.row(tenantOne, itemA1)
		Expect(row.Name).To(Equal("Widget"))
		Expect(row.Quantity).To(Equal(100))
	})

	It("scenario 2: adjusts by -25 with Exact(1), projection shows 75", func() {
		created, err := dispatch.Dispatch(ctx, createItem{tenant: tenantOne, aggregate: itemA1, name: "Widget", quantity: 100})
		Expect(err).NotTo(HaveOccurred())
		applyAndProject(created)

		adjusted, err := dispatch.Dispatch(ctx, adjustStock{tenant: tenantOne, aggregate: itemA1, delta: -25})
		Expect(err).NotTo(HaveOccurred())
		Expect(adjusted).To(HaveLen(1))
		applyAndProject(adjusted)

		history, err := es.LoadStream(ctx, tenantOne, itemA1)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))

		row := proj.row(tenantOne, itemA1)
		Expect(row.Quantity).To(Equal(75))
	})

	It("scenario 3: two concurrent adjustments against Exact(1), exactly one conflicts", func() {
		created, err := dispatch.Dispatch(ctx, createItem{tenant: tenantOne, aggregate: itemA1, name: "Widget", quantity: 100})
		Expect(err).NotTo(HaveOccurred())
		applyAndProject(created)

		// Dispatch does not retry on conflict, so racing two dispatches
		// against the same aggregate through the dispatcher's own public
		// API is enough to exercise this scenario directly: both load the
		// stream at version 1, both decide against that version, and the
		// store's compare-and-append lets exactly one of them win.
		var wg sync.WaitGroup
		var errA, errB error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errA = dispatch.Dispatch(ctx, adjustStock{tenant: tenantOne, aggregate: itemA1, delta: -10})
		}()
		go func() {
			defer wg.Done()
			_, errB = dispatch.Dispatch(ctx, adjustStock{tenant: tenantOne, aggregate: itemA1, delta: -5})
		}()
		wg.Wait()

		succeeded := (errA == nil) != (errB == nil)
		Expect(succeeded).To(BeTrue(), "exactly one of the two concurrent dispatches must succeed")
		if errA != nil {
			Expect(kernel.IsConflict(errA)).To(BeTrue())
		}
		if errB != nil {
			Expect(kernel.IsConflict(errB)).To(BeTrue())
		}

		history, err := es.LoadStream(ctx, tenantOne, itemA1)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[1].SequenceNumber).To(Equal(int64(2)))
	})

	It("scenario 4: adjusting by -1000 is rejected as an invariant violation", func() {
		created, err := dispatch.Dispatch(ctx, createItem{tenant: tenantOne, aggregate: itemA1, name: "Widget", quantity: 100})
		Expect(err).NotTo(HaveOccurred())
		applyAndProject(created)

		_, err = dispatch.Dispatch(ctx, adjustStock{tenant: tenantOne, aggregate: itemA1, delta: -1000})
		Expect(err).To(HaveOccurred())
		Expect(kernel.IsInvariant(err)).To(BeTrue())

		history, err := es.LoadStream(ctx, tenantOne, itemA1)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1), "a rejected command must not append any event")
	})

	It("scenario 5: a request scoped to one tenant cannot dispatch a command targeting another tenant's stream", func() {
		created, err := dispatch.Dispatch(ctx, createItem{tenant: tenantOne, aggregate: itemA1, name: "Widget", quantity: 100})
		Expect(err).NotTo(HaveOccurred())
		applyAndProject(created)

		// A caller's request context is scoped to tenantTwo, but the command
		// it tries to dispatch targets tenantOne's item A1 — the isolation
		// middleware in front of the dispatcher must reject this before the
		// dispatcher ever reads the store.
		guarded := multitenancy.TenantIsolationMiddleware(dispatch.Dispatch)
		reqCtx := multitenancy.WithTenantID(ctx, tenantTwo)

		_, err = guarded(reqCtx, adjustStock{tenant: tenantOne, aggregate: itemA1, delta: -1})
		Expect(err).To(HaveOccurred())
		Expect(kernel.IsTenantIsolation(err)).To(BeTrue())

		history, err := es.LoadStream(ctx, tenantOne, itemA1)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1), "tenant isolation failure must not append any event")
	})

	It("scenario 6: rebuilding the projection matches the incremental result", func() {
		created, err := dispatch.Dispatch(ctx, createItem{tenant: tenantOne, aggregate: itemA1, name: "Widget", quantity: 100})
		Expect(err).NotTo(HaveOccurred())
		applyAndProject(created)

		for _, delta := range []int{-25, 10, -5, 20} {
			stored, err := dispatch.Dispatch(ctx, adjustStock{tenant: tenantOne, aggregate: itemA1, delta: delta})
			Expect(err).NotTo(HaveOccurred())
			applyAndProject(stored)
		}

		incremental := proj.row(tenantOne, itemA1)

		Expect(runner.Rebuild(ctx, tenantOne)).To(Succeed())
		rebuilt := proj.row(tenantOne, itemA1)

		Expect(rebuilt).To(Equal(incremental))
		Expect(rebuilt.Quantity).To(Equal(100))
	})
})
