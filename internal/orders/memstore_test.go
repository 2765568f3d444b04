package orders

import (
	"context"
	"sort"
	"sync"

	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/notify"
)

// memoryStore mimics OrderRepository, including version guards.
type memoryStore struct {
	mu          sync.Mutex
	products    map[int64]domain.Product
	orders      map[int64]*domain.Order
	sequences   map[string]int
	redemptions []Redemption
	nextOrderID int64
	nextItemID  int64
	commits     int
	// conflicts makes the next n commits lose a race.
	conflicts int
	restocked map[int64]int
}

func newMemoryStore(products ...domain.Product) *memoryStore {
	s := &memoryStore{
		products:  make(map[int64]domain.Product),
		orders:    make(map[int64]*domain.Order),
		sequences: make(map[string]int),
		restocked: make(map[int64]int),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	c.TrackingHistory = append([]domain.TrackingEvent(nil), o.TrackingHistory...)
	return &c
}

func (s *memoryStore) Products(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]domain.Product)
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, order *domain.Order, redemption *Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := order.CreatedAt.Format("20060102")
	s.sequences[day]++
	order.OrderNumber = domain.DailyID(domain.PrefixOrder, order.CreatedAt, s.sequences[day])

	s.nextOrderID++
	order.ID = s.nextOrderID
	order.Version = 1
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
		order.Items[i].Version = 1
		p := s.products[order.Items[i].ProductID]
		p.Stock -= order.Items[i].Quantity
		s.products[p.ID] = p
	}
	if redemption != nil {
		s.redemptions = append(s.redemptions, *redemption)
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// seed stores an order as-is and returns its id.
func (s *memoryStore) seed(order domain.Order) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	order.ID = s.nextOrderID
	order.Version = 1
	for i := range order.Items {
		if order.Items[i].ID == 0 {
			s.nextItemID++
			order.Items[i].ID = s.nextItemID
		}
		order.Items[i].OrderID = order.ID
		order.Items[i].Version = 1
	}
	s.orders[order.ID] = cloneOrder(&order)
	return order.ID
}

func (s *memoryStore) get(id int64) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *memoryStore) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (s *memoryStore) GetByItemID(_ context.Context, itemID int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if _, ok := o.Item(itemID); ok {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) List(_ context.Context, filter ListFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if filter.BuyerID != "" && o.BuyerID != filter.BuyerID {
			continue
		}
		if filter.SellerID != "" && !o.HasSeller(filter.SellerID) {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Commit(_ context.Context, change *Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++

	o := s.orders[change.OrderID]
	if s.conflicts > 0 {
		s.conflicts--
		o.Version++
		return domain.ErrConflict
	}
	if o.Version != change.OrderVersion {
		return domain.ErrConflict
	}
	for _, ic := range change.Items {
		item, ok := o.Item(ic.ID)
		if !ok || item.Version != ic.Version {
			return domain.ErrConflict
		}
	}

	o.Status = change.Status
	if change.Event != nil {
		o.TrackingHistory = append(o.TrackingHistory, *change.Event)
	}
	o.Version++
	for _, ic := range change.Items {
		item, _ := o.Item(ic.ID)
		item.Status = ic.Status
		item.DenialReason = ic.DenialReason
		item.PaymentReceived = ic.PaymentReceived
		item.PaymentSentToSeller = ic.PaymentSentToSeller
		item.Version++
		if ic.Restock {
			s.restocked[ic.ProductID] += ic.Quantity
		}
	}
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (n *recordingNotifier) Enqueue(req notify.Request) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return true
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = nil
}

func (n *recordingNotifier) to(recipientID string) []notify.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Request
	for _, r := range n.requests {
		if r.RecipientID == recipientID {
			out = append(out, r)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}
