package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/internal/metrics"
	"github.com/vjranagit/pointstore/pkg/handler"
	"github.com/vjranagit/pointstore/pkg/storage"
	"github.com/vjranagit/pointstore/pkg/types"
)

const testUUID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Metrics) {
	t.Helper()

	store, err := storage.NewFileStore(&storage.Config{
		DataDirectory:  t.TempDir(),
		MaxDaysPerFile: 30,
	}, storage.WithLogger(logging.Discard()))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := handler.New(store, handler.WithMetrics(m), handler.WithLogger(logging.Discard()))

	ts := httptest.NewServer(NewServer("", h, reg).Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func postWrite(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/write", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestWriteThenQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postWrite(t, ts, `{"uuid":"`+testUUID+`","records":[{"time":100202,"value":1.5},{"time":100201,"value":0.5}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wr WriteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wr))
	assert.Equal(t, 2, wr.Count)

	qresp, err := http.Get(ts.URL + "/api/v1/query?uuid=" + testUUID + "&start=100000&end=100300")
	require.NoError(t, err)
	defer qresp.Body.Close()
	require.Equal(t, http.StatusOK, qresp.StatusCode)

	var qr QueryResponse
	require.NoError(t, json.NewDecoder(qresp.Body).Decode(&qr))
	assert.Equal(t, testUUID, qr.UUID)
	assert.Equal(t, []types.Record{
		{Time: 100201, Value: 0.5},
		{Time: 100202, Value: 1.5},
	}, qr.Records)
}

func TestQueryEmptyAndRFC3339(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/query?uuid=" + testUUID + "&start=1970-01-01T00:00:00Z&end=1970-01-02T00:00:00Z")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var qr QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&qr))
	assert.Equal(t, uint32(86400), qr.End)
	assert.NotNil(t, qr.Records)
	assert.Empty(t, qr.Records)
}

func TestBadRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	testCases := []struct {
		name   string
		do     func() (*http.Response, error)
		status int
	}{
		{"query missing uuid", func() (*http.Response, error) {
			return http.Get(ts.URL + "/api/v1/query")
		}, http.StatusBadRequest},
		{"query bad start", func() (*http.Response, error) {
			return http.Get(ts.URL + "/api/v1/query?uuid=" + testUUID + "&start=yesterday")
		}, http.StatusBadRequest},
		{"query wrong method", func() (*http.Response, error) {
			return http.Post(ts.URL+"/api/v1/query", "text/plain", nil)
		}, http.StatusMethodNotAllowed},
		{"write wrong method", func() (*http.Response, error) {
			return http.Get(ts.URL + "/api/v1/write")
		}, http.StatusMethodNotAllowed},
		{"write bad json", func() (*http.Response, error) {
			return http.Post(ts.URL+"/api/v1/write", "application/json", bytes.NewBufferString("{"))
		}, http.StatusBadRequest},
		{"write bad uuid", func() (*http.Response, error) {
			return http.Post(ts.URL+"/api/v1/write", "application/json", bytes.NewBufferString(`{"uuid":"../x","records":[]}`))
		}, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := tc.do()
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

type failingBackend struct{}

func (failingBackend) Write(context.Context, string, []types.Record) (int, error) {
	return 1, errors.New("disk full")
}

func (failingBackend) Query(context.Context, string, types.TimeRange) ([]types.Record, error) {
	return nil, errors.New("disk full")
}

func TestBackendErrors(t *testing.T) {
	ts := httptest.NewServer(NewServer("", failingBackend{}, prometheus.NewRegistry()).Handler())
	defer ts.Close()

	resp := postWrite(t, ts, `{"uuid":"`+testUUID+`","records":[{"time":1,"value":1},{"time":2,"value":2}]}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "after 1 records")

	qresp, err := http.Get(ts.URL + "/api/v1/query?uuid=" + testUUID)
	require.NoError(t, err)
	defer qresp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, qresp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	postWrite(t, ts, `{"uuid":"`+testUUID+`","records":[{"time":100201,"value":0.5}]}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pointstore_records_written_total 1")
}
