package recon

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

func ns(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func nullCell() sql.NullString {
	return sql.NullString{}
}

func cells(vals ...string) []sql.NullString {
	out := make([]sql.NullString, len(vals))
	for i, v := range vals {
		out[i] = ns(v)
	}
	return out
}

// scriptedResponse answers any query containing match. The first matching
// entry in a script wins, so order specific matches before general ones.
type scriptedResponse struct {
	match string
	rows  [][]sql.NullString
	err   error
}

type fakeExecutor struct {
	script []scriptedResponse

	mu      sync.Mutex
	queries []string
	closed  bool
}

func (f *fakeExecutor) QueryRow(ctx context.Context, query string) ([]sql.NullString, error) {
	rows, err := f.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (f *fakeExecutor) QueryAll(ctx context.Context, query string) ([][]sql.NullString, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	for _, r := range f.script {
		if strings.Contains(query, r.match) {
			return r.rows, r.err
		}
	}
	return nil, nil
}

func (f *fakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeExecutor) executedQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeExecutor) queryCount(substr string) int {
	n := 0
	for _, q := range f.executedQueries() {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

// fakeFactory hands out fakeExecutors sharing one script, remembering each
// one so tests can inspect the queries issued per connection.
type fakeFactory struct {
	script     []scriptedResponse
	connectErr error

	mu        sync.Mutex
	connects  int
	executors []*fakeExecutor
}

func (f *fakeFactory) Connect(ctx context.Context) (QueryExecutor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	exec := &fakeExecutor{script: f.script}
	f.executors = append(f.executors, exec)
	return exec, nil
}

// stuckExecutor simulates a gateway that stops answering: any query touching
// match blocks until release is closed, ignoring the query context. Other
// queries fall through to the shared script.
type stuckExecutor struct {
	*fakeExecutor
	match   string
	release <-chan struct{}
}

func (s *stuckExecutor) QueryAll(ctx context.Context, query string) ([][]sql.NullString, error) {
	if strings.Contains(query, s.match) {
		<-s.release
		return nil, errors.New("gateway stopped responding")
	}
	return s.fakeExecutor.QueryAll(ctx, query)
}

func (s *stuckExecutor) QueryRow(ctx context.Context, query string) ([]sql.NullString, error) {
	rows, err := s.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

type stuckTableFactory struct {
	script  []scriptedResponse
	match   string
	release chan struct{}
}

func (f *stuckTableFactory) Connect(ctx context.Context) (QueryExecutor, error) {
	return &stuckExecutor{
		fakeExecutor: &fakeExecutor{script: f.script},
		match:        f.match,
		release:      f.release,
	}, nil
}

func (f *fakeFactory) allQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.executors {
		out = append(out, e.executedQueries()...)
	}
	return out
}
