//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestPlaceOrder_NoCoupon(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items:  []orderItemRequest{{ProductID: "p-tee", Quantity: 2}},
		UserID: "itest-order-plain",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	o := decodeJSON[orderResponse](t, resp)
	if !uuidPattern.MatchString(o.ID) {
		t.Errorf("order id %q is not a UUID", o.ID)
	}
	if o.Subtotal != 39.80 {
		t.Errorf("subtotal: got %v, want 39.80", o.Subtotal)
	}
	if o.Total != 39.80 {
		t.Errorf("total: got %v, want 39.80", o.Total)
	}
}

func TestPlaceOrder_DiscountAndCoupon(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items:      []orderItemRequest{{ProductID: "p-earbuds", Quantity: 1}},
		CouponCode: "SAVE10",
		UserID:     "itest-order-coupon",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	o := decodeJSON[orderResponse](t, resp)
	if o.CouponCode != "SAVE10" {
		t.Errorf("couponCode: got %q, want SAVE10", o.CouponCode)
	}
	if o.Subtotal != 59.99 {
		t.Errorf("subtotal: got %v, want 59.99", o.Subtotal)
	}
	if o.ProductDiscountTotal != 6.00 {
		t.Errorf("productDiscountTotal: got %v, want 6.00", o.ProductDiscountTotal)
	}
	if o.CouponDiscount != 6.00 {
		t.Errorf("couponDiscount: got %v, want 6.00", o.CouponDiscount)
	}
	if o.Total != 47.99 {
		t.Errorf("total: got %v, want 47.99", o.Total)
	}

	if len(o.Items) != 1 {
		t.Fatalf("items: got %d, want 1", len(o.Items))
	}
	if o.Items[0].FinalUnitPrice != 53.99 {
		t.Errorf("finalUnitPrice: got %v, want 53.99", o.Items[0].FinalUnitPrice)
	}
	if o.Items[0].DiscountID != "d-electronics-10" {
		t.Errorf("discountId: got %q, want d-electronics-10", o.Items[0].DiscountID)
	}
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items:  []orderItemRequest{},
		UserID: "itest-order-empty",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPlaceOrder_MissingUser(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items: []orderItemRequest{{ProductID: "p-tee", Quantity: 1}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items:  []orderItemRequest{{ProductID: "p-nope", Quantity: 1}},
		UserID: "itest-order-missing",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Reason != "product_not_found" {
		t.Errorf("reason: got %q, want %q", body.Reason, "product_not_found")
	}
}

func TestPlaceOrder_InvalidCoupon(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items:      []orderItemRequest{{ProductID: "p-tee", Quantity: 1}},
		CouponCode: "NOSUCHCODE",
		UserID:     "itest-order-badcoupon",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Reason != "not_found" {
		t.Errorf("reason: got %q, want %q", body.Reason, "not_found")
	}
}

func TestPlaceOrder_UserLimitEnforced(t *testing.T) {
	req := orderRequest{
		Items:      []orderItemRequest{{ProductID: "p-earbuds", Quantity: 1}},
		CouponCode: "WELCOME20",
		UserID:     "itest-welcome-once",
	}

	first := doPost(t, "/api/orders", req)
	defer first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first order: expected 201, got %d", first.StatusCode)
	}

	o := decodeJSON[orderResponse](t, first)
	if o.CouponDiscount != 12.00 {
		t.Errorf("couponDiscount: got %v, want 12.00", o.CouponDiscount)
	}
	if o.Total != 41.99 {
		t.Errorf("total: got %v, want 41.99", o.Total)
	}

	second := doPost(t, "/api/orders", req)
	defer second.Body.Close()
	if second.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("second order: expected 422, got %d", second.StatusCode)
	}

	body := decodeJSON[errorResponse](t, second)
	if body.Reason != "user_limit_reached" {
		t.Errorf("reason: got %q, want %q", body.Reason, "user_limit_reached")
	}
}
