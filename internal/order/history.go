package order

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/model"
)

// Orders загружает историю заказов пользователя.
func (c *Coordinator) Orders(ctx context.Context) ([]model.Order, error) {
	creds, ok := c.session.Credentials()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	orders, err := c.remote.UserOrders(ctx, creds)
	if err != nil {
		if c.notifier != nil {
			c.notifier.Error(api.Message(err, "Failed to load orders"))
		}
		if api.IsUnauthorized(err) {
			c.session.Expire(ctx, creds.Token)
		}
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return orders, nil
}

// Line описывает строку истории: одну позицию заказа вместе с его статусом.
type Line struct {
	OrderID       string          `json:"orderId"`
	Item          model.OrderItem `json:"item"`
	Status        string          `json:"status"`
	Payment       bool            `json:"payment"`
	PaymentMethod string          `json:"paymentMethod"`
	Date          time.Time       `json:"date"`
}

// OrderLines разворачивает заказы в позиции, новые сначала.
func OrderLines(orders []model.Order) []Line {
	var lines []Line
	for _, o := range orders {
		for _, item := range o.Items {
			lines = append(lines, Line{
				OrderID:       o.ID,
				Item:          item,
				Status:        o.Status,
				Payment:       o.Payment,
				PaymentMethod: o.PaymentMethod,
				Date:          o.PlacedAt(),
			})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Date.After(lines[j].Date)
	})
	return lines
}
