package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trade_go/internal/domain"
	"trade_go/internal/infra"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		wantSKU string
	}{
		{"price", `{"event":"price","data":{"sku":"378;6","name":"Team Captain","buy":{"keys":0,"metal":30.11},"sell":{"keys":1,"metal":2}}}`, true, "378;6"},
		{"key price", `{"event":"keyPrice","data":{"buy":{"keys":0,"metal":50},"sell":{"keys":0,"metal":50.33}}}`, true, domain.KeySKU},
		{"prices updated", `{"event":"pricesUpdated"}`, false, ""},
		{"price without sku", `{"event":"price","data":{"name":"x"}}`, false, ""},
		{"unknown", `{"event":"hello"}`, false, ""},
		{"garbage", `{{`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := decode([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("decode ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && p.SKU != tt.wantSKU {
				t.Errorf("sku = %q, want %q", p.SKU, tt.wantSKU)
			}
		})
	}

	p, _ := decode([]byte(`{"event":"keyPrice","data":{"buy":{"keys":0,"metal":50},"sell":{"keys":0,"metal":50.33}}}`))
	if p.Name != domain.KeyName || !p.Sell.Metal.Equal(decimal.RequireFromString("50.33")) {
		t.Errorf("unexpected key price: %+v", p)
	}
}

func TestWorker_ForwardsUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"pricesUpdated"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"price","data":{"sku":"378;6","name":"Team Captain","buy":{"keys":0,"metal":30},"sell":{"keys":0,"metal":32}}}`))
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	updates := make(chan domain.ItemPrice, 4)
	metrics := infra.NewMetrics()
	w := NewWorker("ws"+strings.TrimPrefix(srv.URL, "http"), updates, metrics)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Disconnect()

	select {
	case p := <-updates:
		if p.SKU != "378;6" {
			t.Errorf("unexpected update %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for price update")
	}
	if !w.Connected() {
		t.Error("expected worker to report connected")
	}
}

func TestWorker_DropsWhenFull(t *testing.T) {
	updates := make(chan domain.ItemPrice) // unbuffered, nobody reading
	w := NewWorker("ws://unused", updates, nil)

	done := make(chan struct{})
	go func() {
		w.handleMessage([]byte(`{"event":"price","data":{"sku":"1;6"}}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleMessage blocked on a full channel")
	}
}
