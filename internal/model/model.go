// Package model содержит доменные сущности клиентского состояния витрины.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает товар каталога. После загрузки не изменяется.
type Product struct {
	ID          string          `json:"_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"image"`
	Category    string          `json:"category"`
	SubCategory string          `json:"subCategory"`
	Sizes       []string        `json:"sizes"`
	Bestseller  bool            `json:"bestseller"`
	Date        int64           `json:"date,omitempty"`
}

// Cart отображает идентификатор товара в набор размеров с количеством.
type Cart map[string]map[string]int

// Clone возвращает глубокую копию корзины без нулевых и отрицательных позиций.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	for id, sizes := range c {
		for size, qty := range sizes {
			if qty <= 0 {
				continue
			}
			if out[id] == nil {
				out[id] = make(map[string]int, len(sizes))
			}
			out[id][size] = qty
		}
	}
	return out
}

// Quantity возвращает количество для пары (товар, размер); отсутствие означает ноль.
func (c Cart) Quantity(productID, size string) int {
	qty := c[productID][size]
	if qty < 0 {
		return 0
	}
	return qty
}

// Credentials содержит учётные данные активной сессии.
type Credentials struct {
	Token  string
	UserID string
}

// User описывает профиль покупателя, полученный от сервера.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Address содержит данные доставки.
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Zipcode   string `json:"zipcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentCOD      PaymentMethod = "cod"
	PaymentRedirect PaymentMethod = "stripe"
	PaymentWidget   PaymentMethod = "razorpay"
)

// Valid сообщает, поддерживается ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentRedirect, PaymentWidget:
		return true
	}
	return false
}

// OrderItem описывает замороженную копию товара с размером и количеством на момент заказа.
type OrderItem struct {
	ProductID string          `json:"_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Images    []string        `json:"image"`
	Category  string          `json:"category,omitempty"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
}

// Order описывает проекцию заказа, принадлежащего серверу.
type Order struct {
	ID            string          `json:"_id"`
	Items         []OrderItem     `json:"items"`
	Amount        decimal.Decimal `json:"amount"`
	Address       Address         `json:"address"`
	PaymentMethod string          `json:"paymentMethod"`
	Status        string          `json:"status"`
	Payment       bool            `json:"payment"`
	Date          int64           `json:"date"`
}

// PlacedAt возвращает время оформления заказа.
func (o Order) PlacedAt() time.Time {
	return time.UnixMilli(o.Date)
}

// WidgetOrder описывает дескриптор заказа для встраиваемого платёжного виджета.
type WidgetOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

// WidgetPayment содержит данные, переданные виджетом в обратный вызов после оплаты.
type WidgetPayment struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Suggestions содержит подсказки поиска.
type Suggestions struct {
	Products      []Product `json:"products"`
	Categories    []string  `json:"categories"`
	Subcategories []string  `json:"subcategories"`
	Source        string    `json:"source"`
}
