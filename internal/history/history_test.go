package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/rules"
	"github.com/lc/confcheck/internal/validator"
)

type HistoryTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	clock time.Time
}

func (s *HistoryTestSuite) SetupTest() {
	s.ctx = context.Background()
	st, err := Open(filepath.Join(s.T().TempDir(), "history.db"))
	s.Require().NoError(err)
	s.store = st
	s.clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *HistoryTestSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

// run validates doc against the reindex group with a clock one minute after
// the previous run.
func (s *HistoryTestSuite) run(doc string) *validator.Report {
	v, err := document.Parse(strings.NewReader(doc))
	s.Require().NoError(err)
	rs, err := rules.Filter(rules.Default(), "reindex")
	s.Require().NoError(err)

	s.clock = s.clock.Add(time.Minute)
	at := s.clock
	rep := validator.New(validator.WithClock(func() time.Time { return at })).Validate(v, rs)
	rep.Source = "/etc/opscode/chef-server-running.json"
	s.Require().NoError(s.store.Record(s.ctx, rep))
	return rep
}

const (
	passing = `{"private_chef": {"fips_enabled": true, "opscode-erchef": {"search_queue_mode": "rabbitmq"}, "redis_lb": {"vip": "10.0.0.9", "port": 16379}}}`
	failing = `{"private_chef": {"fips_enabled": "yes", "redis_lb": {"vip": "10.0.0.9", "port": 0}}}`
)

func (s *HistoryTestSuite) TestOpenRequiresPath() {
	_, err := Open("")
	s.Error(err)
}

func (s *HistoryTestSuite) TestRecordAndRecent() {
	first := s.run(passing)
	second := s.run(failing)

	runs, err := s.store.Recent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)

	s.Equal(second.ID, runs[0].ID, "newest first")
	s.False(runs[0].Pass)
	s.Equal(1, runs[0].Passed)
	s.Equal(3, runs[0].Failed)
	s.True(runs[0].StartedAt.Equal(second.StartedAt))

	s.Equal(first.ID, runs[1].ID)
	s.True(runs[1].Pass)
	s.Equal(4, runs[1].Passed)
	s.Equal("/etc/opscode/chef-server-running.json", runs[1].Source)

	limited, err := s.store.Recent(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *HistoryTestSuite) TestFailures() {
	rep := s.run(failing)

	got, err := s.store.Failures(s.ctx, rep.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal("fips_enabled", got[0].Label)
	s.Equal(validator.CodePredicateUnmet, got[0].Code)
	s.Equal("opscode-erchef/search_queue_mode", got[1].Label)
	s.Equal(validator.CodeMissingPath, got[1].Code)
	s.Equal("private_chef.redis_lb.port", got[2].Path)

	ok := s.run(passing)
	none, err := s.store.Failures(s.ctx, ok.ID)
	s.Require().NoError(err)
	s.Empty(none)

	_, err = s.store.Failures(s.ctx, "no-such-run")
	s.ErrorIs(err, ErrNotFound)
}

func (s *HistoryTestSuite) TestRecordDuplicateID() {
	rep := s.run(passing)
	s.Error(s.store.Record(s.ctx, rep))
}

func (s *HistoryTestSuite) TestPrune() {
	var last *validator.Report
	for i := 0; i < 5; i++ {
		last = s.run(failing)
	}

	n, err := s.store.Prune(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	runs, err := s.store.Recent(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(runs, 2)
	s.Equal(last.ID, runs[0].ID)

	var orphans int
	s.Require().NoError(s.store.db.QueryRow(
		`SELECT COUNT(*) FROM results WHERE run_id NOT IN (SELECT id FROM runs)`).Scan(&orphans))
	s.Zero(orphans)

	n, err = s.store.Prune(s.ctx, 0)
	s.Require().NoError(err)
	s.Zero(n, "keep < 1 disables pruning")
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistoryTestSuite))
}
