package analytics

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

func scenarioRows() []domain.Transaction {
	return []domain.Transaction{
		{Country: "US", Browser: "Chrome", Class: 1, PurchaseTime: "2020-01-01"},
		{Country: "US", Browser: "Chrome", Class: 0, PurchaseTime: "2020-01-01"},
		{Country: "FR", Browser: "Firefox", Class: 1, PurchaseTime: "2020-01-02"},
	}
}

func TestScenario(t *testing.T) {
	rows := scenarioRows()

	summary, err := Summarize(rows)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.TotalTransactions != 3 || summary.FraudCases != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if math.Abs(summary.FraudPercentage-66.67) > 0.005 {
		t.Errorf("expected ~66.67%%, got %v", summary.FraudPercentage)
	}

	trend := TrendByDay(rows)
	wantTrend := []DailyCount{{"2020-01-01", 1}, {"2020-01-02", 1}}
	if !slices.Equal(trend, wantTrend) {
		t.Errorf("trend = %+v, want %+v", trend, wantTrend)
	}

	countries := ByCountry(rows)
	wantCountries := []CountryCount{{"US", 1}, {"FR", 1}}
	if !slices.Equal(countries, wantCountries) {
		t.Errorf("by country = %+v, want %+v", countries, wantCountries)
	}

	browsers := ByBrowser(rows)
	wantBrowsers := []BrowserCount{{"Chrome", 1}, {"Firefox", 1}}
	if !slices.Equal(browsers, wantBrowsers) {
		t.Errorf("by browser = %+v, want %+v", browsers, wantBrowsers)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	_, err := Summarize(nil)
	if !errors.Is(err, domain.ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestSummarizeArithmetic(t *testing.T) {
	tests := []struct {
		name    string
		classes []int
		fraud   int
		pct     float64
	}{
		{"no fraud", []int{0, 0, 0, 0}, 0, 0},
		{"all fraud", []int{1, 1}, 2, 100},
		{"one in eight", []int{0, 0, 0, 1, 0, 0, 0, 0}, 1, 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := make([]domain.Transaction, len(tt.classes))
			for i, c := range tt.classes {
				rows[i].Class = c
			}

			s, err := Summarize(rows)
			if err != nil {
				t.Fatalf("Summarize failed: %v", err)
			}
			if s.TotalTransactions != len(rows) {
				t.Errorf("total = %d, want %d", s.TotalTransactions, len(rows))
			}
			if s.FraudCases != tt.fraud {
				t.Errorf("fraud = %d, want %d", s.FraudCases, tt.fraud)
			}
			if s.FraudPercentage != tt.pct {
				t.Errorf("pct = %v, want %v", s.FraudPercentage, tt.pct)
			}
		})
	}
}

func TestTrendByDay(t *testing.T) {
	rows := []domain.Transaction{
		{Class: 1, PurchaseTime: "2015-03-02 10:00:00"},
		{Class: 1, PurchaseTime: "2015-01-15 23:59:59"},
		{Class: 1, PurchaseTime: "2015-03-02T01:02:03"},
		{Class: 0, PurchaseTime: "2015-01-15 08:00:00"},
		{Class: 1, PurchaseTime: "2015-01-15 08:00:00.250"},
		{Class: 1, PurchaseTime: "2015-02-01T23:30:00-05:00"},
		{Class: 1, PurchaseTime: "not a date"},
		{Class: 1, PurchaseTime: ""},
	}

	trend := TrendByDay(rows)
	want := []DailyCount{
		{"2015-01-15", 2},
		{"2015-02-01", 1},
		{"2015-03-02", 2},
	}
	if !slices.Equal(trend, want) {
		t.Fatalf("trend = %+v, want %+v", trend, want)
	}

	for i := 1; i < len(trend); i++ {
		if trend[i-1].Date >= trend[i].Date {
			t.Errorf("dates not ascending at %d: %s >= %s", i, trend[i-1].Date, trend[i].Date)
		}
	}
}

func TestGroupingSkipsEmptyKeys(t *testing.T) {
	rows := []domain.Transaction{
		{Country: "", Browser: "Safari", Class: 1},
		{Country: "JP", Browser: "", Class: 1},
		{Country: "JP", Browser: "Safari", Class: 1},
		{Country: "BR", Browser: "IE", Class: 0},
	}

	countries := ByCountry(rows)
	if !slices.Equal(countries, []CountryCount{{"JP", 2}, {"BR", 0}}) {
		t.Errorf("by country = %+v", countries)
	}

	browsers := ByBrowser(rows)
	if !slices.Equal(browsers, []BrowserCount{{"Safari", 2}, {"IE", 0}}) {
		t.Errorf("by browser = %+v", browsers)
	}
}

func TestEmptyViewsEncodeAsArrays(t *testing.T) {
	views := map[string]any{
		"trend":   TrendByDay(nil),
		"country":  ByCountry(nil),
		"browser":  ByBrowser(nil),
	}

	for name, v := range views {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("%s: marshal failed: %v", name, err)
		}
		if string(data) != "[]" {
			t.Errorf("%s: expected [], got %s", name, data)
		}
	}
}

func TestRepeatable(t *testing.T) {
	rows := append(scenarioRows(),
		domain.Transaction{Country: "DE", Browser: "Opera", Class: 1, PurchaseTime: "2019-12-31 12:00:00"},
		domain.Transaction{Country: "CN", Browser: "Chrome", Class: 1, PurchaseTime: "2020-01-03"},
	)

	first, _ := json.Marshal([]any{TrendByDay(rows), ByCountry(rows), ByBrowser(rows)})
	for i := 0; i < 20; i++ {
		again, _ := json.Marshal([]any{TrendByDay(rows), ByCountry(rows), ByBrowser(rows)})
		if string(again) != string(first) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, again)
		}
	}
}
