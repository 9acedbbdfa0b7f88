package main

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
)

const sample = `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0
1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0
1,CASH_OUT,not-a-number,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
2,PAYMENT,1864.28,C1666544295,21249.0,19384.72,M2044282225,0.0,0.0,0,0
`

func TestReadPaySimCSV(t *testing.T) {
	t.Run("SkipsUnparseableAmounts", func(t *testing.T) {
		txs, err := readPaySimCSV(strings.NewReader(sample), 0, false, 1.0)
		if err != nil {
			t.Fatalf("readPaySimCSV failed: %v", err)
		}
		if len(txs) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(txs))
		}
		if txs[1].Type != "transfer" || !txs[1].IsFraud || txs[1].Row != 2 {
			t.Errorf("unexpected row %+v", txs[1])
		}
	})

	t.Run("FraudOnly", func(t *testing.T) {
		txs, _ := readPaySimCSV(strings.NewReader(sample), 0, true, 1.0)
		if len(txs) != 1 || txs[0].NameOrig != "C1305486145" {
			t.Errorf("expected the single parseable fraud row, got %+v", txs)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		txs, _ := readPaySimCSV(strings.NewReader(sample), 1, false, 1.0)
		if len(txs) != 1 {
			t.Errorf("expected 1 row, got %d", len(txs))
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		if _, err := readPaySimCSV(strings.NewReader("step,type\n1,PAYMENT\n"), 0, false, 1.0); err == nil {
			t.Error("expected error for missing columns")
		}
	})
}

func TestToRequest(t *testing.T) {
	txs, _ := readPaySimCSV(strings.NewReader(sample), 0, false, 1.0)
	req := toRequest(txs[2], "XOF")

	if req.TransactionID != "paysim-4" || req.CustomerID != "C1666544295" || req.Currency != "XOF" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Timestamp != "2025-01-01T02:00:00Z" {
		t.Errorf("expected step 2 as 02:00, got %s", req.Timestamp)
	}
	if req.Amount.String() != "1864.28" {
		t.Errorf("expected exact amount, got %s", req.Amount)
	}
}

func TestDecideTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req DecideRequest
		json.NewDecoder(r.Body).Decode(&req)
		if r.Header.Get("X-Client-ID") != "bench" {
			t.Errorf("missing client id header")
		}
		if req.CustomerID == "limited" {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"decision":{"riskScore":0.66,"isFraud":true,"shouldBlock":true},"status":"rejected"}`))
	}))
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL).SetHeader("X-Client-ID", "bench")

	result, err := decideTransaction(client, DecideRequest{CustomerID: "c1"})
	if err != nil {
		t.Fatalf("decideTransaction failed: %v", err)
	}
	if !result.Decision.IsFraud || result.Status != "rejected" {
		t.Errorf("unexpected result %+v", result)
	}

	if _, err := decideTransaction(client, DecideRequest{CustomerID: "limited"}); !errors.Is(err, errRateLimited) {
		t.Errorf("expected errRateLimited, got %v", err)
	}
}

func TestMetricsScores(t *testing.T) {
	m := &Metrics{}
	fraud := &DecideResponse{}
	fraud.Decision.IsFraud = true
	legit := &DecideResponse{}

	m.record(true, fraud)  // TP
	m.record(true, fraud)  // TP
	m.record(true, legit)  // FN
	m.record(false, fraud) // FP
	m.record(false, legit) // TN

	s := m.Scores()
	if math.Abs(s.Precision-2.0/3.0) > 1e-9 || math.Abs(s.Recall-2.0/3.0) > 1e-9 {
		t.Errorf("unexpected precision/recall %+v", s)
	}
	if math.Abs(s.Accuracy-0.6) > 1e-9 {
		t.Errorf("expected accuracy 0.6, got %v", s.Accuracy)
	}
	if m.TotalFraud != 3 || m.TotalNonFraud != 2 {
		t.Errorf("unexpected label totals %+v", m)
	}

	if (&Metrics{}).Scores() != (Scores{}) {
		t.Error("expected zero scores for an empty matrix")
	}
}
