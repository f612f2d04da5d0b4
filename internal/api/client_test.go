package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/mmeshcher/storefront/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, time.Second)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestListProducts_OK(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/product/list" {
			t.Fatalf("path = %s, want /api/product/list", r.URL.Path)
		}
		if r.Header.Get(requestIDHeader) == "" {
			t.Fatalf("request id header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"products":[{"_id":"p1","name":"Shirt","price":100,"image":["a.png"],"sizes":["M","L"]}]}`))
	})

	products, err := client.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts error: %v", err)
	}
	if len(products) != 1 || products[0].ID != "p1" {
		t.Fatalf("unexpected products: %+v", products)
	}
	if products[0].Price.String() != "100" {
		t.Fatalf("price = %s, want 100", products[0].Price)
	}
}

func TestListProducts_SuccessFalse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"success": false, "message": "catalog offline"})
	})

	_, err := client.ListProducts(context.Background())
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if got := Message(err, "fallback"); got != "catalog offline" {
		t.Fatalf("Message = %q, want server message", got)
	}
}

func TestAddToCart_SendsTokenAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cart/add" {
			t.Fatalf("path = %s, want /api/cart/add", r.URL.Path)
		}
		if got := r.Header.Get("token"); got != "tok" {
			t.Fatalf("token header = %q, want tok", got)
		}
		var body cartItemRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.UserID != "u1" || body.ItemID != "p1" || body.Size != "M" || body.Quantity != nil {
			t.Fatalf("unexpected body: %+v", body)
		}
		writeJSON(t, w, map[string]any{"success": true, "message": "Added To Cart"})
	})

	msg, err := client.AddToCart(context.Background(), model.Credentials{Token: "tok", UserID: "u1"}, "p1", "M")
	if err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}
	if msg != "Added To Cart" {
		t.Fatalf("message = %q", msg)
	}
}

func TestUpdateCart_SendsZeroQuantity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if q, ok := body["quantity"]; !ok || q.(float64) != 0 {
			t.Fatalf("quantity = %v, want explicit 0", body["quantity"])
		}
		writeJSON(t, w, map[string]any{"success": true, "message": "Cart Updated"})
	})

	if _, err := client.UpdateCart(context.Background(), model.Credentials{Token: "tok"}, "p1", "M", 0); err != nil {
		t.Fatalf("UpdateCart error: %v", err)
	}
}

func TestGetCart_Unauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetCart(context.Background(), model.Credentials{Token: "expired"})
	if !IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetCart_NotAuthorizedEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"success": false, "message": "Not Authorized Login Again"})
	})

	_, err := client.GetCart(context.Background(), model.Credentials{Token: "expired"})
	if !IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetCart_EmptyCartData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"success": true})
	})

	cart, err := client.GetCart(context.Background(), model.Credentials{Token: "tok"})
	if err != nil {
		t.Fatalf("GetCart error: %v", err)
	}
	if cart == nil || len(cart) != 0 {
		t.Fatalf("cart = %v, want empty non-nil", cart)
	}
}

func TestPlaceOrder_SendsNumbers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount json.RawMessage `json:"amount"`
			Items  []struct {
				ID    string          `json:"_id"`
				Price json.RawMessage `json:"price"`
				Size  string          `json:"size"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(body.Amount) != "210.5" {
			t.Fatalf("amount = %s, want 210.5", body.Amount)
		}
		if len(body.Items) != 1 || string(body.Items[0].Price) != "100.25" {
			t.Fatalf("items = %+v", body.Items)
		}
		if body.Items[0].ID != "p1" || body.Items[0].Size != "M" {
			t.Fatalf("item = %+v", body.Items[0])
		}
		writeJSON(t, w, map[string]any{"success": true, "message": "Order Placed"})
	})

	req := OrderRequest{
		UserID: "u1",
		Items: []model.OrderItem{
			{ProductID: "p1", Name: "Shirt", Price: decimal.RequireFromString("100.25"), Size: "M", Quantity: 2},
		},
		Amount: decimal.RequireFromString("210.5"),
	}
	msg, err := client.PlaceOrder(context.Background(), "tok", req)
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if msg != "Order Placed" {
		t.Fatalf("message = %q", msg)
	}
}

func TestPlaceOrderRedirect_ReturnsURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Email != "a@b.c" {
			t.Fatalf("email = %q, want a@b.c", body.Email)
		}
		writeJSON(t, w, map[string]any{"success": true, "session_url": "https://pay.example/s/1"})
	})

	u, err := client.PlaceOrderRedirect(context.Background(), "tok", OrderRequest{Email: "a@b.c"})
	if err != nil {
		t.Fatalf("PlaceOrderRedirect error: %v", err)
	}
	if u != "https://pay.example/s/1" {
		t.Fatalf("url = %q", u)
	}
}

func TestVerifyRedirect_FailureIsNotError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"success": false, "message": "payment cancelled"})
	})

	v, err := client.VerifyRedirect(context.Background(), model.Credentials{Token: "tok"}, "true", "o1")
	if err != nil {
		t.Fatalf("VerifyRedirect error: %v", err)
	}
	if v.Success {
		t.Fatalf("expected unsuccessful verification")
	}
}

func TestServerError_MessageVerbatim(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"stock exhausted"}`))
	})

	_, err := client.PlaceOrder(context.Background(), "tok", OrderRequest{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := Message(err, "generic"); got != "stock exhausted" {
		t.Fatalf("Message = %q, want stock exhausted", got)
	}
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < breakerFailures; i++ {
		if _, err := client.ListProducts(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}

	_, err := client.ListProducts(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if got := Message(err, "generic"); got != "Service temporarily unavailable" {
		t.Fatalf("Message = %q", got)
	}
	if got := hits.Load(); got != breakerFailures {
		t.Fatalf("server hits = %d, want %d", got, breakerFailures)
	}
}

func TestBreakerIgnoresEnvelopeFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"success": false, "message": "Not Authorized Login Again"})
	})

	for i := 0; i < breakerFailures+2; i++ {
		_, err := client.GetCart(context.Background(), model.Credentials{Token: "tok"})
		if !IsUnauthorized(err) {
			t.Fatalf("attempt %d: err = %v, want unauthorized", i, err)
		}
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient("", time.Second)

	_, err := client.ListProducts(context.Background())
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}

func TestSearchSuggestions_DefaultsSource(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "red shirt" {
			t.Fatalf("query = %q, want red shirt", got)
		}
		writeJSON(t, w, map[string]any{"categories": []string{"Men"}})
	})

	s, err := client.SearchSuggestions(context.Background(), "red shirt")
	if err != nil {
		t.Fatalf("SearchSuggestions error: %v", err)
	}
	if s.Source != "unknown" || len(s.Categories) != 1 {
		t.Fatalf("unexpected suggestions: %+v", s)
	}
}
