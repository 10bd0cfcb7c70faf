package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stockhero/config"
	"stockhero/models"
)

const stockDayMay2024 = `{"stat":"OK","date":"20240502","data":[
	["113/05/02","25,123,456","19,876,543,210","780.00","790.00","775.00","788.00","+8.00","30,123"],
	["113/05/03","20,000,000","16,000,000,000","790.00","800.00","785.00","795.00","+7.00","28,000"]
]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*TWSEClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.NewTestConfig().TWSE
	cfg.BaseURL = server.URL
	breakers := NewCircuitBreakerRegistry(CircuitBreakerConfig{MaxRequests: 5, Interval: time.Minute, Timeout: time.Minute}, nil)
	return NewTWSEClient(cfg, breakers, nil), server
}

var tsmc = models.StockRef{ID: "2330", Name: "台積電"}

func TestFetchDaily_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathStockDay {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("stockNo") != "2330" {
			t.Errorf("stockNo = %s, want 2330", query.Get("stockNo"))
		}
		if query.Get("date") != "20240503" {
			t.Errorf("date = %s, want 20240503", query.Get("date"))
		}
		if query.Get("response") != "json" {
			t.Error("missing response=json")
		}
		w.Write([]byte(stockDayMay2024))
	})

	record, err := client.FetchDaily(context.Background(), tsmc, time.Date(2024, 5, 3, 15, 30, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *record.ClosingPrice != 795 {
		t.Errorf("ClosingPrice = %v, want 795", *record.ClosingPrice)
	}
	if record.TradeVolume != 20000000 {
		t.Errorf("TradeVolume = %d, want 20000000", record.TradeVolume)
	}
	if !record.Date.Equal(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want 2024-05-03", record.Date)
	}
}

func TestFetchDaily_NoTradingDataNeverRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"stat":"很抱歉，沒有符合條件的資料!"}`))
	})

	_, err := client.FetchDaily(context.Background(), tsmc, time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoTradingData) {
		t.Fatalf("expected ErrNoTradingData, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 request, got %d", got)
	}
}

func TestFetchDaily_BadStatusRetriesThenFails(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"stat":"查詢日期大於今日，請重新查詢!"}`))
	})

	_, err := client.FetchDaily(context.Background(), tsmc, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if errors.Is(err, ErrNoTradingData) {
		t.Error("exhaustion must be distinct from no data")
	}
	if got := atomic.LoadInt32(&calls); got != int32(DailyPolicy(0).MaxAttempts) {
		t.Errorf("expected %d requests, got %d", DailyPolicy(0).MaxAttempts, got)
	}
}

func TestFetchDaily_DateMissingIsRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"stat":"OK","data":[]}`))
			return
		}
		w.Write([]byte(stockDayMay2024))
	})

	record, err := client.FetchDaily(context.Background(), tsmc, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *record.ClosingPrice != 788 {
		t.Errorf("ClosingPrice = %v, want 788", *record.ClosingPrice)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
}

func TestFetchDaily_HTTPErrorIsTransient(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(stockDayMay2024))
	})

	_, err := client.FetchDaily(context.Background(), tsmc, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
}

func TestFetchMonth_SkipsMalformedRows(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"OK","data":[
			["113/05/02","25,123,456","19,876,543,210","780.00","790.00","775.00","788.00","+8.00","30,123"],
			["113/05/03","--","--","--","--","--","--","--","--"],
			["113/05/06","20,000,000","16,000,000,000","790.00","800.00","785.00","795.00","+7.00","28,000"]
		]}`))
	})

	records, err := client.FetchMonth(context.Background(), tsmc, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Date.Day() != 6 {
		t.Errorf("expected the malformed row to be skipped, got %v", records[1].Date)
	}
}

func TestCheckMarketOpen(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("stockNo") != "2330" {
			t.Errorf("expected the reference stock, got %s", r.URL.Query().Get("stockNo"))
		}
		w.Write([]byte(stockDayMay2024))
	})

	open, err := client.CheckMarketOpen(context.Background(), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil || !open {
		t.Errorf("expected open, got %v, %v", open, err)
	}

	open, err = client.CheckMarketOpen(context.Background(), time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))
	if err != nil || open {
		t.Errorf("expected closed on a Saturday, got %v, %v", open, err)
	}
}

func TestCheckMarketOpen_NoData(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"很抱歉，沒有符合條件的資料!"}`))
	})

	open, err := client.CheckMarketOpen(context.Background(), time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))
	if err != nil || open {
		t.Errorf("expected closed without error, got %v, %v", open, err)
	}
}

func TestFetchRatios(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathRatios {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"stat":"OK","data":[
			["2330","台積電","2023","1.62","113","22.35","6.01","112/4"],
			["2317","鴻海","2023","3.41","113","14.02","1.48","112/4"],
			["bad"]
		]}`))
	})

	ratios, err := client.FetchRatios(context.Background(), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ratios) != 2 {
		t.Fatalf("expected 2 ratios, got %d", len(ratios))
	}
	if *ratios["2317"].PERatio != 14.02 {
		t.Errorf("unexpected 2317 ratio %+v", ratios["2317"])
	}
}

func TestFetchRatios_EmptyDataIsNoData(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"stat":"OK","data":[]}`))
	})

	_, err := client.FetchRatios(context.Background(), time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoTradingData) {
		t.Errorf("expected ErrNoTradingData, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 request, got %d", got)
	}
}

func TestFetchInstitutional_MalformedRowRetriesBatch(t *testing.T) {
	var calls int32
	good := `["2330","台積電","10,000","5,000","5,000","0","0","0","2,000","1,000","1,000","500","300","100","200","400","100","300","6,500"]`
	bad := `["2303","聯電","abc","5,000","5,000","0","0","0","2,000","1,000","1,000","500","300","100","200","400","100","300","6,500"]`
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("selectType") != "24" {
			t.Errorf("selectType = %s, want 24", r.URL.Query().Get("selectType"))
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"stat":"OK","data":[` + good + `,` + bad + `]}`))
			return
		}
		w.Write([]byte(`{"stat":"OK","data":[` + good + `]}`))
	})

	records, err := client.FetchInstitutional(context.Background(), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), Industries[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected the whole batch to be refetched once, got %d requests", got)
	}
	if len(records) != 1 || records[0].Industry != "半導體業" {
		t.Errorf("unexpected records %+v", records)
	}
}

func TestFetchInstitutional_NoData(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"很抱歉，沒有符合條件的資料!"}`))
	})

	_, err := client.FetchInstitutional(context.Background(), time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC), Industries[0])
	if !errors.Is(err, ErrNoTradingData) {
		t.Errorf("expected ErrNoTradingData, got %v", err)
	}
}

func TestTWSEClient_SharedLimiterPacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stockDayMay2024))
	}))
	defer server.Close()

	cfg := config.NewTestConfig().TWSE
	cfg.BaseURL = server.URL
	cfg.RequestIntervalMS = 50
	client := NewTWSEClient(cfg, nil, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.FetchDaily(context.Background(), tsmc, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// first request is free, the next two wait one interval each
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected pacing of ~100ms, got %v", elapsed)
	}
}
