package orders

import (
	"fmt"

	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/notify"
)

// visibleTo returns the order as caller may see it, or nil when caller has no
// part in it. Sellers only see their own lines.
func visibleTo(order *domain.Order, caller domain.Caller) *domain.Order {
	if caller.IsAdmin() || order.BuyerID == caller.ID {
		return order
	}
	if !order.HasSeller(caller.ID) {
		return nil
	}

	trimmed := *order
	trimmed.Items = make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.SellerID == caller.ID {
			trimmed.Items = append(trimmed.Items, item)
		}
	}
	return &trimmed
}

func (s *Service) enqueue(req notify.Request) {
	if !s.notifier.Enqueue(req) {
		s.logger.Warn("notification not queued", "kind", req.Kind, "order_id", req.OrderID, "recipient_id", req.RecipientID)
	}
}

func (s *Service) notifyOrderPlaced(order *domain.Order) {
	for _, sellerID := range order.SellerIDs() {
		var count int
		for _, item := range order.Items {
			if item.SellerID == sellerID {
				count++
			}
		}
		s.enqueue(notify.Request{
			Kind:        domain.NotifySellerOrderStatus,
			RecipientID: sellerID,
			Title:       "New order received",
			Message:     fmt.Sprintf("Order %s includes %d of your products. Please accept or deny it.", order.OrderNumber, count),
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      domain.StatusPending,
			BuyerName:   order.ShippingAddress.Name,
		})
	}
	s.notifyAdmins(order, "New order placed", fmt.Sprintf("Total ৳%d, cash on delivery", order.Total))
}

func (s *Service) notifyBuyer(order *domain.Order, item *domain.OrderItem, title string) {
	s.enqueue(notify.Request{
		Kind:        domain.NotifyBuyerOrderStatus,
		RecipientID: order.BuyerID,
		Title:       title,
		Message:     fmt.Sprintf("Order %s: %s", order.OrderNumber, lastNote(order)),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      item.Status,
		Note:        lastNote(order),
	})
}

func (s *Service) notifyOrderBuyer(order *domain.Order, title, note string) {
	s.enqueue(notify.Request{
		Kind:        domain.NotifyBuyerOrderStatus,
		RecipientID: order.BuyerID,
		Title:       title,
		Message:     fmt.Sprintf("Order %s: %s", order.OrderNumber, note),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Note:        note,
	})
}

func (s *Service) notifySeller(order *domain.Order, sellerID string, status domain.Status, title, note string) {
	s.enqueue(notify.Request{
		Kind:        domain.NotifySellerOrderStatus,
		RecipientID: sellerID,
		Title:       title,
		Message:     fmt.Sprintf("Order %s: %s", order.OrderNumber, note),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      status,
		Note:        note,
		BuyerName:   order.ShippingAddress.Name,
	})
}

func (s *Service) notifyAdmins(order *domain.Order, title, note string) {
	s.enqueue(notify.Request{
		Kind:        domain.NotifyAdminOrderStatus,
		Title:       title,
		Message:     fmt.Sprintf("Order %s: %s", order.OrderNumber, note),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Note:        note,
	})
}

func (s *Service) notifyPayout(order *domain.Order, item *domain.OrderItem) {
	amount := item.Earning()
	s.enqueue(notify.Request{
		Kind:        domain.NotifySellerPayout,
		RecipientID: item.SellerID,
		Title:       "Payment sent",
		Message:     fmt.Sprintf("৳%d for %s (order %s) has been sent to you.", amount, item.ProductName, order.OrderNumber),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.EffectiveStatus(item),
		Note:        fmt.Sprintf("Payout for %s", item.ProductName),
		Amount:      amount,
	})
}
