package payload_test

import (
	"testing"

	"github.com/xraph/waypoint/payload"
)

type orderContext struct {
	OrderID string  `json:"order_id" msgpack:"order_id"`
	Total   float64 `json:"total" msgpack:"total"`
}

type refundContext struct {
	RefundID string `json:"refund_id"`
}

func TestRegisterAndResolve(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	payload.Register[orderContext](r, "orders.OrderContext")

	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"exact tag", "orders.OrderContext", true},
		{"unknown tag", "orders.Missing", false},
		{"tag is case-sensitive", "orders.ordercontext", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.Resolve(tt.tag)
			if ok != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.tag, ok, tt.want)
			}
		})
	}
}

func TestResolveShort(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	payload.Register[orderContext](r, "orders.OrderContext")
	payload.Register[refundContext](r, "billing/RefundContext")

	tests := []struct {
		name  string
		short string
		want  bool
	}{
		{"dot-separated short name", "OrderContext", true},
		{"slash-separated short name", "RefundContext", true},
		{"case-insensitive", "ordercontext", true},
		{"unknown", "PaymentContext", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.ResolveShort(tt.short)
			if ok != tt.want {
				t.Errorf("ResolveShort(%q) = %v, want %v", tt.short, ok, tt.want)
			}
		})
	}
}

func TestResolveShortAmbiguous(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	payload.Register[orderContext](r, "orders.Context")
	payload.Register[refundContext](r, "billing.Context")

	if _, ok := r.ResolveShort("Context"); ok {
		t.Error("ambiguous short name should not resolve")
	}
}

func TestDuplicateTagPanics(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	payload.Register[orderContext](r, "orders.OrderContext")

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate tag")
		}
	}()
	payload.Register[refundContext](r, "orders.OrderContext")
}

func TestCodecFor(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	want := payload.Register[orderContext](r, "orders.OrderContext")

	got, ok := payload.CodecFor[orderContext](r)
	if !ok {
		t.Fatal("CodecFor returned false for a registered type")
	}
	if got.Tag() != want.Tag() {
		t.Errorf("got tag %q, want %q", got.Tag(), want.Tag())
	}

	if _, ok := payload.CodecFor[refundContext](r); ok {
		t.Error("CodecFor returned true for an unregistered type")
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	c := payload.Register[orderContext](r, "orders.OrderContext")

	in := orderContext{OrderID: "ord-42", Total: 99.5}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	out, err := c.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := out.(orderContext); got != in {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, in)
	}
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	c := payload.RegisterMsgpack[orderContext](r, "orders.OrderContextBin")

	in := orderContext{OrderID: "ord-7", Total: 12.25}
	data, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	out, err := c.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := out.(orderContext); got != in {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, in)
	}
}

func TestCodecRejectsWrongType(t *testing.T) {
	t.Parallel()
	r := payload.NewRegistry()
	c := payload.Register[orderContext](r, "orders.OrderContext")

	if _, err := c.Marshal(refundContext{RefundID: "r1"}); err == nil {
		t.Error("expected error marshaling a value of the wrong type")
	}
}
