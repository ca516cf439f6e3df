package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/funhub/offers/internal/api"
	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/service"
)

// PerfConfig is read from PERF_ environment variables.
type PerfConfig struct {
	BaseURL  string        `env:"BASE_URL,default=http://localhost:8080"`
	Workers  int           `env:"WORKERS,default=50"`
	RPS      int           `env:"RPS,default=700"`
	Duration time.Duration `env:"DURATION,default=30s"`
	Vouchers int           `env:"VOUCHERS,default=20000"`
	AdminID  int64         `env:"ADMIN_ID,default=1"`
	OfferID  int64         `env:"OFFER_ID"` // reuse an existing offer instead of creating a campaign
}

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters avoid lock contention on hot paths; LatencySum is in
// nanoseconds.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	SoldOutCount  int64
	ErrorCount    int64
	LatencySum    int64
}

const defaultTimeout = 30 * time.Second

func main() {
	var cfg PerfConfig
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("PERF_", envconfig.OsLookuper()),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 4,
		MaxIdleConnsPerHost: cfg.Workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	// per-call contexts bound each request; campaign creation may run for minutes
	httpClient := &http.Client{Transport: transport}
	client := api.NewOfferServiceClient(httpClient, cfg.BaseURL)

	offerID := cfg.OfferID
	if offerID == 0 {
		var err error
		offerID, err = createOffer(client, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create campaign: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created offer %d with %d vouchers\n", offerID, cfg.Vouchers)
	}

	before, err := reconcile(client, cfg.AdminID, offerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read offer stock: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("==========================================")
	fmt.Printf("offer     : %d\n", offerID)
	fmt.Printf("stock     : %d\n", before)
	fmt.Printf("rps       : %d\n", cfg.RPS)
	fmt.Printf("workers   : %d\n", cfg.Workers)
	fmt.Printf("duration  : %v\n", cfg.Duration)
	fmt.Println("==========================================")

	burst := cfg.RPS / cfg.Workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var (
		result    PerfResult
		nextUser  int64 = 1_000_000
		wg        sync.WaitGroup
		latencyMu sync.Mutex
		latencies []time.Duration
	)

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				user := atomic.AddInt64(&nextUser, 1)
				if lat, ok := doCheckout(client, offerID, user, &result); ok {
					latencyMu.Lock()
					latencies = append(latencies, lat)
					latencyMu.Unlock()
				}
			}
		}()
	}

	start := time.Now()
	<-ctx.Done()
	wg.Wait()
	totalDur := time.Since(start)

	fmt.Println("==========================================")
	fmt.Printf("elapsed        : %.2fs\n", totalDur.Seconds())
	fmt.Printf("requests       : %d\n", result.TotalRequests)
	fmt.Printf("claims created : %d\n", result.SuccessCount)
	fmt.Printf("sold out       : %d\n", result.SoldOutCount)
	fmt.Printf("errors         : %d\n", result.ErrorCount)
	fmt.Printf("claims/sec     : %.2f\n", float64(result.SuccessCount)/totalDur.Seconds())
	if result.SuccessCount > 0 {
		fmt.Printf("avg latency    : %v\n", time.Duration(result.LatencySum/result.SuccessCount))
		fmt.Printf("p95 latency    : %v\n", percentile(latencies, 0.95))
	}
	fmt.Println("==========================================")

	after, err := reconcile(client, cfg.AdminID, offerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read offer stock: %v\n", err)
		os.Exit(1)
	}
	if err := verify(before, after, result.SuccessCount); err != nil {
		fmt.Printf("consistency check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("consistency ok: stock %d -> %d\n", before, after)
}

// createOffer creates a published single-schedule campaign open from an hour ago
// and returns its offer.
func createOffer(client *api.OfferServiceClient, cfg PerfConfig) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	owner := cfg.AdminID
	cmd := &service.CampaignCreateCommand{
		OfferDetails: service.OfferDetails{
			Name:                fmt.Sprintf("load test %s", time.Now().Format(time.RFC3339)),
			FiatPrice:           decimal.NewFromInt(10),
			DiscountedFiatPrice: decimal.NewFromInt(5),
			ExpiryDays:          30,
		},
		StartDate:           time.Now().Add(-time.Hour),
		VouchersCount:       cfg.Vouchers,
		DaysPerSchedule:     2,
		QuantityPerSchedule: cfg.Vouchers,
		Status:              model.StatusPublished,
		UserID:              &owner,
	}

	resp, err := client.CreateCampaign(ctx, api.NewRequest(cfg.AdminID, cmd))
	if err != nil {
		return 0, err
	}
	res := resp.Msg.Result
	if res == nil || !res.Success || len(res.OfferIDs) == 0 {
		return 0, fmt.Errorf("materialization failed: %v", res)
	}
	return res.OfferIDs[0], nil
}

func doCheckout(client *api.OfferServiceClient, offerID, userID int64, result *PerfResult) (time.Duration, bool) {
	// independent context so in-flight requests finish when the run ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	atomic.AddInt64(&result.TotalRequests, 1)
	start := time.Now()
	resp, err := client.Checkout(ctx, api.NewRequest(userID, &api.CheckoutRequest{OfferID: offerID}))
	latency := time.Since(start)

	var connectErr *connect.Error
	switch {
	case err == nil && resp.Msg.Claim != nil:
		atomic.AddInt64(&result.SuccessCount, 1)
		atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
		return latency, true
	case errors.As(err, &connectErr) && connectErr.Code() == connect.CodeResourceExhausted:
		atomic.AddInt64(&result.SoldOutCount, 1)
	default:
		atomic.AddInt64(&result.ErrorCount, 1)
	}
	return 0, false
}

func reconcile(client *api.OfferServiceClient, adminID, offerID int64) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.ReconcileOffer(ctx, api.NewRequest(adminID, &api.ReconcileOfferRequest{OfferID: offerID}))
	if err != nil {
		return 0, err
	}
	return resp.Msg.Quantity, nil
}

// verify checks that every created claim took exactly one voucher.
func verify(before, after int, claimed int64) error {
	if after < 0 {
		return fmt.Errorf("negative stock %d", after)
	}
	if int64(before-after) != claimed {
		return fmt.Errorf("stock dropped by %d but %d claims were created", before-after, claimed)
	}
	return nil
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
