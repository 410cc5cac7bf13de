package worker

import (
	"context"
	"testing"

	"github.com/nautilabs/nautifier/internal/bus"
)

type nopHandler struct{ name string }

func (h *nopHandler) Name() string                                  { return h.name }
func (h *nopHandler) Handle(context.Context, bus.InboundEvent) error { return nil }

func TestRouter_Resolve(t *testing.T) {
	r := NewRouter(map[string]Handler{
		"C100": &nopHandler{name: "leaves"},
		"C200": &nopHandler{name: "chat"},
	})

	h, ok := r.Resolve("C100")
	if !ok || h.Name() != "leaves" {
		t.Fatalf("Resolve(C100) = %v, %v", h, ok)
	}
	if _, ok := r.Resolve("C999"); ok {
		t.Error("unknown channel must not resolve")
	}
}

func TestRouter_UpdateSwapsAtomically(t *testing.T) {
	r := NewRouter(map[string]Handler{"C100": &nopHandler{name: "old"}})

	r.Update(map[string]Handler{"C300": &nopHandler{name: "new"}})

	if _, ok := r.Resolve("C100"); ok {
		t.Error("old route should be gone after Update")
	}
	h, ok := r.Resolve("C300")
	if !ok || h.Name() != "new" {
		t.Errorf("new route missing after Update")
	}
}
