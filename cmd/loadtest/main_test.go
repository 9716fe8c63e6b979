package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeClient struct {
	mu         sync.Mutex
	placeKeys  []string
	cancelled  []string
	placeErr   error
	checkCalls int
	sawBearer  bool
}

func (f *fakeClient) PlaceOrder(ctx context.Context, req *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, _ := metadata.FromOutgoingContext(ctx)
	f.placeKeys = append(f.placeKeys, md.Get(idempotencyHeader)...)
	f.sawBearer = len(md.Get("authorization")) == 1 && md.Get("authorization")[0] == "Bearer tok"
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return structpb.NewStruct(map[string]any{"order_id": "order-" + req.Fields["address_id"].GetStringValue()})
}

func (f *fakeClient) CancelOrder(_ context.Context, req *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, req.Fields["order_id"].GetStringValue())
	return &structpb.Struct{}, nil
}

func (f *fakeClient) CheckAvailability(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	return &structpb.Struct{}, nil
}

var baseArgs = []string{"-product=hoodie", "-color=Ecru", "-size=S"}

func args(extra ...string) []string {
	return append(append([]string{}, baseArgs...), extra...)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(args("-unit-price=49.5", "-quantity=2"))
	require.NoError(t, err)
	assert.Equal(t, modeAvailability, cfg.mode)
	assert.Equal(t, "49.50", cfg.unitPrice.StringFixed(2))
	assert.Equal(t, 200, cfg.total)

	_, err = parseConfig(args("-mode=place"))
	assert.ErrorContains(t, err, "-token")

	cfg, err = parseConfig(args("-mode=place-cancel", "-token=t", "-address-id=a"))
	require.NoError(t, err)
	assert.Equal(t, modePlaceCancel, cfg.mode)

	for _, bad := range [][]string{
		args("-mode=refund"),
		args("-unit-price=-1"),
		args("-unit-price=abc"),
		args("-quantity=0"),
		args("-concurrency=0"),
		args("-total=0"),
		{"-color=Ecru", "-size=S"},
	} {
		_, err := parseConfig(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestRun_Availability(t *testing.T) {
	cfg, err := parseConfig(args("-total=12", "-concurrency=3"))
	require.NoError(t, err)
	client := &fakeClient{}

	result := run(context.Background(), cfg, []checkoutClient{client})

	assert.Equal(t, int64(12), result.Scenarios)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 12, client.checkCalls)
	assert.Equal(t, int64(12), result.Calls["CheckAvailability"].Calls)
}

func TestRun_PlaceCancelUsesUniqueIdempotencyKeys(t *testing.T) {
	cfg, err := parseConfig(args("-mode=place-cancel", "-token=tok", "-address-id=addr", "-total=5", "-concurrency=2"))
	require.NoError(t, err)
	client := &fakeClient{}

	result := run(context.Background(), cfg, []checkoutClient{client})

	assert.Zero(t, result.Failed)
	assert.Len(t, client.cancelled, 5)
	assert.True(t, client.sawBearer)
	seen := map[string]bool{}
	for _, key := range client.placeKeys {
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, 5)
}

func TestRun_FailuresAreCounted(t *testing.T) {
	cfg, err := parseConfig(args("-mode=place", "-token=tok", "-address-id=addr", "-total=4", "-concurrency=1"))
	require.NoError(t, err)
	client := &fakeClient{placeErr: status.Error(codes.ResourceExhausted, "too many requests")}

	result := run(context.Background(), cfg, []checkoutClient{client})

	assert.Equal(t, int64(4), result.Failed)
	assert.Equal(t, int64(4), result.Calls["PlaceOrder"].Codes[codes.ResourceExhausted.String()])
	assert.Empty(t, client.cancelled)
}

func TestDispatch_StopsOnDurationAndContext(t *testing.T) {
	jobs := make(chan int)
	done := make(chan struct{})
	go func() {
		dispatch(context.Background(), jobs, config{duration: 20 * time.Millisecond})
		close(done)
	}()
	for range jobs {
	}
	<-done

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	unbuffered := make(chan int)
	dispatch(ctx, unbuffered, config{total: 10})
	_, open := <-unbuffered
	assert.False(t, open)
}

func TestPercentileAndSummary(t *testing.T) {
	assert.Zero(t, percentile(nil, 95))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)

	s := summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 2.5, s.Avg)
	assert.Zero(t, ratio(1, 0))
}

func TestReportOutput(t *testing.T) {
	col := newCollector()
	col.record(scenarioMetric, 10*time.Millisecond, codes.OK)
	col.record(scenarioMetric, 20*time.Millisecond, codes.Unavailable)
	col.record("PlaceOrder", 5*time.Millisecond, codes.OK)
	r := col.report(time.Now(), time.Second)

	assert.Equal(t, int64(2), r.Scenarios)
	assert.Equal(t, int64(1), r.Failed)
	assert.Equal(t, 2.0, r.RPS)

	var buf bytes.Buffer
	printReport(&buf, r, config{mode: modePlace})
	assert.Contains(t, buf.String(), "mode=place scenarios=2 failed=1")
	assert.Contains(t, buf.String(), "PlaceOrder: calls=1")

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeJSONReport("report.json", r))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, int64(2), decoded.Scenarios)

	assert.Error(t, writeJSONReport("../escape.json", r))
	assert.Error(t, writeJSONReport(".", r))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, codes.OK, codeOf(nil))
	assert.Equal(t, codes.Canceled, codeOf(context.Canceled))
	assert.Equal(t, codes.NotFound, codeOf(status.Error(codes.NotFound, "x")))
	assert.Equal(t, codes.Unknown, codeOf(errors.New("plain")))
}
