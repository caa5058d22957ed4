package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestReadCSV(t *testing.T) {
	t.Run("DerivesHasActivity", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.csv")
		data := "tx_hash,Hour,total_received,mean_value_received,time_diff_first_last_received,total_tx_sent,total_tx_sent_unique,Fraud\n" +
			"0xa1,14,300,0,200,40,16,1\n" +
			"0xa2,3,0,0,0,0,0,0\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		rows, err := readCSV(path, "Fraud", 0)
		if err != nil {
			t.Fatalf("readCSV failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rows))
		}
		if !rows[0].IsFraud || rows[1].IsFraud {
			t.Errorf("labels not parsed: %+v", rows)
		}
		if rows[0].Features["has_activity"] != 1 || rows[1].Features["has_activity"] != 0 {
			t.Errorf("has_activity not derived: %v / %v", rows[0].Features, rows[1].Features)
		}
		if rows[0].TxHash != "0xa1" {
			t.Errorf("expected tx hash, got %q", rows[0].TxHash)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.csv")
		if err := os.WriteFile(path, []byte("Hour,Fraud\n1,0\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := readCSV(path, "Fraud", 0); err == nil {
			t.Error("expected error for missing feature columns")
		}
	})
}

func TestReport(t *testing.T) {
	m := &Metrics{
		TruePositives:  8,
		FalsePositives: 2,
		TrueNegatives:  85,
		FalseNegatives: 5,
		scored: []scoredRow{
			{0.9, true}, {0.8, true}, {0.3, false}, {0.1, false},
		},
	}

	r := m.Report()
	if math.Abs(r.Accuracy-0.93) > 1e-9 {
		t.Errorf("accuracy = %v", r.Accuracy)
	}
	if math.Abs(r.Precision-0.8) > 1e-9 {
		t.Errorf("precision = %v", r.Precision)
	}
	if math.Abs(r.Recall-8.0/13.0) > 1e-9 {
		t.Errorf("recall = %v", r.Recall)
	}
	if r.ROCAUC != 1 {
		t.Errorf("perfectly separated scores should give AUC 1, got %v", r.ROCAUC)
	}
}

func TestRocAUC(t *testing.T) {
	tests := []struct {
		name string
		rows []scoredRow
		want float64
	}{
		{"Inverted", []scoredRow{{0.1, true}, {0.9, false}}, 0},
		{"AllTied", []scoredRow{{0.5, true}, {0.5, false}}, 0.5},
		{"SingleClass", []scoredRow{{0.5, true}, {0.7, true}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rocAUC(tt.rows); got != tt.want {
				t.Errorf("rocAUC = %v, want %v", got, tt.want)
			}
		})
	}
}
