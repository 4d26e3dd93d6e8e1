package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/pkg/handler"
	"github.com/vjranagit/pointstore/pkg/server"
	"github.com/vjranagit/pointstore/pkg/storage"
	"github.com/vjranagit/pointstore/pkg/types"
)

func startServer(t *testing.T) string {
	t.Helper()

	store, err := storage.NewFileStore(&storage.Config{
		DataDirectory:  t.TempDir(),
		MaxDaysPerFile: 30,
	}, storage.WithLogger(logging.Discard()))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(nil, handler.New(store, handler.WithLogger(logging.Discard())),
		server.WithLogger(logging.Discard()))
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return ln.Addr().String()
}

func TestParseRecords(t *testing.T) {
	records, err := parseRecords([]string{"100201=0.5", "100202=-1.5"})
	require.NoError(t, err)
	assert.Equal(t, []types.Record{{Time: 100201, Value: 0.5}, {Time: 100202, Value: -1.5}}, records)

	for _, bad := range [][]string{nil, {"100201"}, {"x=1"}, {"1=y"}, {"4294967296=1"}} {
		_, err := parseRecords(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestRunUUID(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"uuid"}, &out))

	id := bytes.TrimSpace(out.Bytes())
	_, err := uuid.ParseBytes(id)
	assert.NoError(t, err)
	assert.NoError(t, types.ValidateStreamID(string(id)))
}

func TestRunHelpListsCommands(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--help"}, &out))

	s := out.String()
	for _, want := range []string{"put", "get", "uuid", "--addr", "--timeout"} {
		assert.Contains(t, s, want)
	}
}

func TestRunErrors(t *testing.T) {
	id := uuid.NewString()
	testCases := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"put without uuid", []string{"put", "1=1"}},
		{"put without records", []string{"put", "--uuid", id}},
		{"put with short uuid", []string{"put", "--uuid", "short", "1=1"}},
		{"get end out of range", []string{"get", "--uuid", id, "--end", "4294967296"}},
		{"get with args", []string{"get", "--uuid", id, "extra"}},
		{"bad timeout", []string{"--timeout", "soon", "uuid"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(tc.args, &out))
		})
	}
}

func TestRunPutThenGet(t *testing.T) {
	addr := startServer(t)
	id := uuid.NewString()

	var out bytes.Buffer
	require.NoError(t, run([]string{"--addr", addr, "put", "--uuid", id, "100201=0.5", "100202=1.5"}, &out))
	assert.Equal(t, "stored 2 records\n", out.String())

	out.Reset()
	require.NoError(t, run([]string{"--addr", addr, "get", "--uuid", id, "--start", "100000", "--end", "100300", "--json"}, &out))

	var got []types.Record
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, []types.Record{{Time: 100201, Value: 0.5}, {Time: 100202, Value: 1.5}}, got)

	out.Reset()
	require.NoError(t, run([]string{"get", "--addr", addr, "--uuid", id, "--start", "100202", "--end", "100202"}, &out))
	assert.Contains(t, out.String(), "100202")
	assert.NotContains(t, out.String(), "100201")
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	printRecords(&out, []types.Record{{Time: 86400, Value: 2.5}})

	s := out.String()
	assert.Contains(t, s, "86400")
	assert.Contains(t, s, "1970-01-02T00:00:00Z")
	assert.Contains(t, s, "2.5")
}
