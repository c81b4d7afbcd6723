package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearboxd/internal/config"
	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/gearbox"
	"gearboxd/internal/handler"
	"gearboxd/internal/service"
)

type stubService struct {
	err   error
	path  string
	count int
}

func (s *stubService) Commit(ctx context.Context, changes []datastore.Change) (*service.CommitResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.CommitResult{Changes: len(changes)}, nil
}

func (s *stubService) Query(ctx context.Context, path string) (*gearbox.Document, error) {
	s.path = path
	if s.err != nil {
		return nil, s.err
	}
	return &gearbox.Document{}, nil
}

func (s *stubService) Running(ctx context.Context, prefix string) (datastore.Tree, error) {
	return datastore.Tree{}, s.err
}

func (s *stubService) Resync(ctx context.Context) error {
	s.count++
	return s.err
}

func newStubRemote(t *testing.T, svc *stubService) *httpRemote {
	t.Helper()
	mux := http.NewServeMux()
	handler.NewGearboxHandler(svc, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &httpRemote{base: srv.URL, client: srv.Client()}
}

func TestHTTPRemote(t *testing.T) {
	svc := &stubService{}
	r := newStubRemote(t, svc)
	ctx := context.Background()

	path := "/gearbox:gearboxes/gearbox[name='piu1']"
	_, err := r.Query(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, svc.path)

	res, err := r.Commit(ctx, []datastore.Change{{
		Path:  path + "/config/admin-status",
		Kind:  datastore.Modified,
		Value: "DOWN",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changes)

	require.NoError(t, r.Resync(ctx))
	assert.Equal(t, 1, svc.count)
}

func TestHTTPRemoteReportsServerError(t *testing.T) {
	svc := &stubService{err: errors.Invalidf("slot 7 out of range")}
	r := newStubRemote(t, svc)

	_, err := r.Query(context.Background(), gearbox.Root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(400)")
	assert.Contains(t, err.Error(), "slot 7 out of range")
}

func TestRPCSubjects(t *testing.T) {
	subjects := rpcSubjects(config.RPCConfig{Enabled: true, Query: "lab.gearbox.query"})
	assert.Equal(t, "lab.gearbox.query", subjects.Query)
	assert.Equal(t, "gearbox.commit", subjects.Commit)
	assert.Equal(t, "gearbox.resync", subjects.Resync)
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "module", "piu1")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"module":"piu1"`)
}
