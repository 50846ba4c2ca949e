package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"model-market-go/internal/common"
	"model-market-go/internal/models"
	"model-market-go/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typical(v float64) *float64 { return &v }

func testPrices() *common.PricingTable {
	return &common.PricingTable{
		Hardware: []models.HardwareCost{
			{Sku: "gpu-t4", Name: "Nvidia T4 GPU", PricePerSecond: decimal.RequireFromString("0.000225"), PricePerHour: decimal.RequireFromString("0.81")},
		},
		Models: map[string]models.ModelCostInfo{
			"owner/model": {HardwareName: "Nvidia T4 GPU", TypicalPredictionTime: typical(4)},
		},
	}
}

// fakeReplicate serves the subset of the Replicate REST API the backend uses
func fakeReplicate(t *testing.T, polls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"next":"` + "http://" + r.Host + `/collections?cursor=2","results":[{"slug":"image","name":"Image"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"next":null,"results":[{"slug":"audio","name":"Audio"}]}`))
	})
	mux.HandleFunc("/collections/image", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"slug":"image","models":[{"owner":"owner","name":"model","run_count":42,"latest_version":{"id":"v9"}}]}`))
	})
	mux.HandleFunc("/models/owner/model/predictions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `{"prompt":"hi"}`, string(body["input"]))

		if r.Header.Get("Prefer") != "" {
			assert.Equal(t, "wait=5", r.Header.Get("Prefer"))
			_, _ = w.Write([]byte(`{"id":"p-sync","status":"processing"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p-async","status":"starting"}`))
	})
	mux.HandleFunc("/predictions/p-sync", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(polls, 1)
		_, _ = w.Write([]byte(`{"id":"p-sync","status":"succeeded","output":["a.png"],"metrics":{"predict_time":3.5}}`))
	})
	mux.HandleFunc("/predictions/p-failed", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p-failed","status":"failed","error":"CUDA out of memory"}`))
	})
	mux.HandleFunc("/predictions/p-async", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p-async","status":"processing"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// newStack wires a fake upstream, the gateway and a backend client speaking to it
func newStack(t *testing.T, polls *int32) *provider.Client {
	t.Helper()
	upstream := fakeReplicate(t, polls)

	replicate, err := NewReplicateWithHttp(models.ReplicateConfig{
		BaseUrl:     upstream.URL,
		ApiToken:    "secret",
		WaitSeconds: 5,
	}, testPrices(), upstream.Client())
	require.NoError(t, err)

	gateway, err := NewServer(models.ServerConfig{RequestTimeout: 10 * time.Second}, replicate)
	require.NoError(t, err)
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	client, err := provider.NewClientWithHttp(models.ProviderConfig{
		Name:          ReplicateName,
		ApiUrl:        server.URL,
		RetryAttempts: 1,
	}, server.Client())
	require.NoError(t, err)
	return client
}

func TestNormalizeState(t *testing.T) {
	tests := map[string]models.RunState{
		"starting":   models.RunPending,
		"pending":    models.RunPending,
		"processing": models.RunRunning,
		"started":    models.RunRunning,
		"succeeded":  models.RunCompleted,
		"finished":   models.RunCompleted,
		"failed":     models.RunFailed,
		"canceled":   models.RunFailed,
		"":           models.RunPending,
	}
	for status, want := range tests {
		assert.Equal(t, want, NormalizeState(status), status)
	}
}

func TestGateway_Catalog(t *testing.T) {
	var polls int32
	client := newStack(t, &polls)
	ctx := context.Background()

	categories, err := client.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "image", categories[0].Slug)
	assert.Equal(t, "audio", categories[1].Slug)

	list, err := client.ListModels(ctx, "image")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, provider.EncodeModelSlug("owner/model"), list[0].Slug)
	assert.Equal(t, "v9", list[0].Version)
	assert.Equal(t, int64(42), list[0].RunCount)
}

func TestGateway_RunPollsUntilFinished(t *testing.T) {
	var polls int32
	client := newStack(t, &polls)

	result, err := client.Run(context.Background(), provider.EncodeModelSlug("owner/model"), json.RawMessage(`{"prompt":"hi"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "p-sync", result.Id)
	assert.Equal(t, models.RunCompleted, result.Status)
	require.NotNil(t, result.ElapsedTime())
	assert.Equal(t, 3.5, *result.ElapsedTime())
	assert.JSONEq(t, `["a.png"]`, string(result.Result.Output))
	assert.Equal(t, int32(1), atomic.LoadInt32(&polls))
}

func TestGateway_AsyncRun(t *testing.T) {
	var polls int32
	client := newStack(t, &polls)
	ctx := context.Background()

	run, err := client.RunAsync(ctx, provider.EncodeModelSlug("owner/model"), json.RawMessage(`{"prompt":"hi"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "p-async", run.Id)
	assert.Equal(t, models.RunPending, run.Status)

	status, err := client.GetStatus(ctx, "p-async")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, status.Status)

	pending, err := client.GetResult(ctx, "p-async")
	require.NoError(t, err)
	assert.Nil(t, pending.Result)

	failed, err := client.GetResult(ctx, "p-failed")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, failed.Status)
	require.NotNil(t, failed.Result)
	assert.Equal(t, "CUDA out of memory", failed.Result.Error)
}

func TestGateway_Pricing(t *testing.T) {
	var polls int32
	client := newStack(t, &polls)
	ctx := context.Background()

	costs, err := client.GetHardwareCosts(ctx)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.True(t, costs[0].PricePerSecond.Equal(decimal.RequireFromString("0.000225")))

	info, err := client.GetCostInfo(ctx, provider.EncodeModelSlug("owner/model"))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "gpu-t4", info.Sku)

	missing, err := client.GetCostInfo(ctx, provider.EncodeModelSlug("owner/unknown"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGateway_Errors(t *testing.T) {
	var polls int32
	client := newStack(t, &polls)

	_, err := client.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, provider.ErrProvider)

	_, err = NewServer(models.ServerConfig{})
	assert.Error(t, err)

	_, err = NewReplicateWithHttp(models.ReplicateConfig{BaseUrl: "http://localhost"}, nil, http.DefaultClient)
	assert.Error(t, err)
}
