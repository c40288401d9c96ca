package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmit(t *testing.T) {
	var gotPath, gotPayload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req struct {
			SignedPayload string `json:"signed_payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		gotPayload = req.SignedPayload
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "tx-99"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	id, err := c.Submit(context.Background(), []byte("signed-bytes"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "tx-99" {
		t.Fatalf("id = %q", id)
	}
	if gotPath != "/transactions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotPayload != hex.EncodeToString([]byte("signed-bytes")) {
		t.Fatalf("payload = %q", gotPayload)
	}
}

func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tx malformed", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	if _, err := c.Submit(context.Background(), []byte("x")); err == nil {
		t.Fatalf("error status did not surface")
	}
}

func TestSubmitEmptyPayload(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", time.Second)
	if _, err := c.Submit(context.Background(), nil); err == nil {
		t.Fatalf("empty payload accepted")
	}
}

func TestFetchBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/GALICE" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"balance": "12.345", "sequence": 7})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	bal, seq, err := c.FetchBalance(context.Background(), "GALICE")
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if bal != 123450000 {
		t.Fatalf("balance = %d", bal)
	}
	if seq != 7 {
		t.Fatalf("sequence = %d", seq)
	}
}

func TestFetchBalanceBadAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"balance": "-3", "sequence": 1})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	if _, _, err := c.FetchBalance(context.Background(), "GALICE"); err == nil {
		t.Fatalf("negative balance accepted")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", time.Second); err == nil {
		t.Fatalf("empty url accepted")
	}
}
