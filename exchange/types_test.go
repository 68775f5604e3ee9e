package exchange

import (
	"encoding/json"
	"testing"
)

func TestDefaultBookItemStrings(t *testing.T) {
	item, err := DefaultBookItem(json.RawMessage(`["203.50", "0.75"]`))
	if err != nil {
		t.Fatalf("format err: %v", err)
	}
	if item.Price.String() != "203.5" || item.Amount.String() != "0.75" {
		t.Fatalf("unexpected item %v", item)
	}
}

func TestDefaultBookItemNumbersAndExtras(t *testing.T) {
	// kraken 的 Depth 条目带第三个时间戳元素
	item, err := DefaultBookItem(json.RawMessage(`[430.1, 2.5, 1414181834]`))
	if err != nil {
		t.Fatalf("format err: %v", err)
	}
	if item.Price.String() != "430.1" || item.Amount.String() != "2.5" {
		t.Fatalf("unexpected item %v", item)
	}
}

func TestDefaultBookItemMalformed(t *testing.T) {
	if _, err := DefaultBookItem(json.RawMessage(`{"price": "1"}`)); err == nil {
		t.Fatal("expected error for object input")
	}
	if _, err := DefaultBookItem(json.RawMessage(`["1"]`)); err == nil {
		t.Fatal("expected error for single-element array")
	}
}

func TestObjectBookItem(t *testing.T) {
	item, err := ObjectBookItem(json.RawMessage(`{"price":"240.10","amount":"1.2","timestamp":"1414181834.0"}`))
	if err != nil {
		t.Fatalf("format err: %v", err)
	}
	if item.Price.String() != "240.1" || item.Amount.String() != "1.2" {
		t.Fatalf("unexpected item %v", item)
	}
}

func TestOrderBookLazyFormat(t *testing.T) {
	book := OrderBook{
		RawAsks: []json.RawMessage{json.RawMessage(`["10","1"]`), json.RawMessage(`["11","2"]`)},
		RawBids: []json.RawMessage{json.RawMessage(`["9","3"]`)},
	}
	ask, err := book.Ask(1)
	if err != nil {
		t.Fatalf("ask err: %v", err)
	}
	if ask.Price.String() != "11" {
		t.Fatalf("ask price %s", ask.Price)
	}
	bids, err := book.Bids()
	if err != nil {
		t.Fatalf("bids err: %v", err)
	}
	if len(bids) != 1 || bids[0].Amount.String() != "3" {
		t.Fatalf("bids %v", bids)
	}
	if _, err := book.Ask(5); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestVenueErrorFormat(t *testing.T) {
	err := Errf("kraken", "unable to create order %s", "abc")
	if err.Error() != "kraken:\tunable to create order abc" {
		t.Fatalf("error string %q", err.Error())
	}
}

func TestVenueErrorKindHeuristic(t *testing.T) {
	cases := map[string]ErrorKind{
		"connection refused while sending":   KindTransient,
		"It is not enough BTC in the wallet": KindRejected,
		"Order could not be cancelled.":      KindNotFound,
		"completely novel venue gibberish":   KindUnknown,
	}
	for msg, want := range cases {
		e := &VenueError{Venue: "x", Message: msg}
		if got := e.Kind(); got != want {
			t.Fatalf("kind of %q = %v, want %v", msg, got, want)
		}
	}
}
