package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/checkout/internal/service/grpc"
)

type loadMode string

const (
	modeAvailability loadMode = "availability"
	modePlace        loadMode = "place"
	modePlaceCancel  loadMode = "place-cancel"
)

type config struct {
	addr        string
	total       int
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	token       string
	addressID   string
	productID   string
	color       string
	size        string
	quantity    int
	unitPrice   decimal.Decimal
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg   config
		mode  string
		price string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "checkout gRPC address")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run when -duration is not set")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 4, "gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&mode, "mode", string(modeAvailability), "availability | place | place-cancel")
	fs.StringVar(&cfg.token, "token", "", "session token for place modes")
	fs.StringVar(&cfg.addressID, "address-id", "", "saved address id for place modes")
	fs.StringVar(&cfg.productID, "product", "", "product id")
	fs.StringVar(&cfg.color, "color", "", "color name")
	fs.StringVar(&cfg.size, "size", "", "size name")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per line")
	fs.StringVar(&price, "unit-price", "10.00", "unit price")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report path")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.mode = loadMode(strings.TrimSpace(mode))
	switch cfg.mode {
	case modeAvailability:
	case modePlace, modePlaceCancel:
		if strings.TrimSpace(cfg.token) == "" || strings.TrimSpace(cfg.addressID) == "" {
			return config{}, fmt.Errorf("mode %s requires -token and -address-id", cfg.mode)
		}
	default:
		return config{}, fmt.Errorf("unsupported mode: %s", mode)
	}

	unitPrice, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil || !unitPrice.IsPositive() {
		return config{}, fmt.Errorf("unit-price must be a positive decimal: %q", price)
	}
	cfg.unitPrice = unitPrice

	switch {
	case cfg.productID == "" || cfg.color == "" || cfg.size == "":
		return config{}, errors.New("-product, -color and -size are required")
	case cfg.quantity <= 0:
		return config{}, errors.New("quantity must be > 0")
	case cfg.duration < 0:
		return config{}, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return config{}, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return config{}, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]checkoutClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "create grpc client: %v\n", err)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewCheckoutClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result := run(ctx, cfg, clients)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// run раздаёт сценарии воркерам, по одному клиенту на воркер по кругу.
func run(ctx context.Context, cfg config, clients []checkoutClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func(client checkoutClient) {
			defer wg.Done()
			for index := range jobs {
				_ = runScenario(ctx, client, cfg, runID, index, col)
			}
		}(clients[w%len(clients)])
	}

	dispatch(ctx, jobs, cfg)
	wg.Wait()
	return col.report(startedAt, time.Since(startedAt))
}

func dispatch(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; cfg.duration > 0 || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}
