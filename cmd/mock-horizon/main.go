// mock-horizon is a stub ledger gateway for local development. It accepts
// payment and account-creation submissions and answers with generated
// operation ids; the /payments/fail route simulates ledger rejection.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

var opCount atomic.Int64

type submission struct {
	Channel         string `json:"channel"`
	Destination     string `json:"destination"`
	Amount          int64  `json:"amount"`
	Memo            string `json:"memo"`
	StartingBalance int64  `json:"starting_balance"`
}

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	http.HandleFunc("/payments", func(w http.ResponseWriter, r *http.Request) {
		sub, ok := decode(w, r)
		if !ok {
			return
		}
		opID := nextOpID()
		log.Printf("payment: %d -> %s memo=%s op=%s", sub.Amount, truncate(sub.Destination, 12), sub.Memo, opID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"operation_id": opID})
	})

	http.HandleFunc("/payments/fail", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "tx_bad_seq"})
	})

	http.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		sub, ok := decode(w, r)
		if !ok {
			return
		}
		opID := nextOpID()
		log.Printf("account created: %s balance=%d op=%s", truncate(sub.Destination, 12), sub.StartingBalance, opID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"operation_id": opID})
	})

	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_operations": opCount.Load()})
	})

	log.Printf("mock horizon starting on :%s", port)
	log.Printf("  POST /payments       -> operation id")
	log.Printf("  POST /payments/fail  -> 502 tx_bad_seq")
	log.Printf("  POST /accounts       -> operation id")
	log.Printf("  GET  /stats          -> operation count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request) (submission, bool) {
	var sub submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad request"})
		return sub, false
	}
	return sub, true
}

func nextOpID() string {
	return fmt.Sprintf("op-%d-%d", time.Now().UnixNano(), opCount.Add(1))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
