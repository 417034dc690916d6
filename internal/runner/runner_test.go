package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lc/confcheck/internal/config"
	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/filesys"
	"github.com/lc/confcheck/internal/history"
	"github.com/lc/confcheck/internal/mocks"
	"github.com/lc/confcheck/internal/report"
	"github.com/lc/confcheck/internal/rules"
	"github.com/lc/confcheck/internal/validator"
)

const reindexOK = `{
  "private_chef": {
    "fips_enabled": false,
    "opscode-erchef": {"search_queue_mode": "batch"},
    "redis_lb": {"vip": "127.0.0.1", "port": 16379}
  }
}`

type RunnerTestSuite struct {
	suite.Suite
	dir   string
	input string
	out   bytes.Buffer
}

func (s *RunnerTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.input = filepath.Join(s.dir, "chef-server-running.json")
	s.out.Reset()
	s.write(s.input, reindexOK)
}

func (s *RunnerTestSuite) write(path, content string) {
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
}

func (s *RunnerTestSuite) settings() Settings {
	return Settings{
		Input:       s.input,
		Groups:      []string{"reindex"},
		Parallelism: 2,
		Format:      report.FormatText,
	}
}

func (s *RunnerTestSuite) TestSettingsFrom() {
	cfg := config.Default()
	cfg.Report.Format = "json"
	cfg.Rules.Groups = []string{"ha"}

	got, err := SettingsFrom(cfg)
	s.Require().NoError(err)
	s.Equal(config.DefaultInputPath, got.Input)
	s.Equal(report.FormatJSON, got.Format)
	s.Equal([]string{"ha"}, got.Groups)
	s.Equal(config.DefaultParallelism, got.Parallelism)
	s.Equal(config.DefaultHistoryKeep, got.HistoryKeep)

	cfg.Report.Format = "html"
	_, err = SettingsFrom(cfg)
	s.Error(err)
}

func (s *RunnerTestSuite) TestRunPasses() {
	rep, err := New(filesys.OS(), s.settings(), &s.out).Run(context.Background())

	s.Require().NoError(err)
	s.True(rep.Pass)
	s.Len(rep.Results, 4)
	s.Equal(s.input, rep.Source)
	s.Contains(s.out.String(), "RESULT: PASS")
}

func (s *RunnerTestSuite) TestRunFails() {
	s.write(s.input, `{"private_chef": {"redis_lb": {"vip": "", "port": "0"}}}`)

	rep, err := New(filesys.OS(), s.settings(), &s.out).Run(context.Background())

	s.Require().ErrorIs(err, ErrFailed)
	s.Contains(err.Error(), "4 of 4 rules failed")
	s.False(rep.Pass)
	s.Contains(s.out.String(), "RESULT: FAIL")
}

func (s *RunnerTestSuite) TestRunMissingInput() {
	st := s.settings()
	st.Input = filepath.Join(s.dir, "absent.json")

	rep, err := New(filesys.OS(), st, &s.out).Run(context.Background())

	s.ErrorIs(err, document.ErrNoDocument)
	s.Nil(rep)
	s.Empty(s.out.String())
}

func (s *RunnerTestSuite) TestRunMalformedInput() {
	s.write(s.input, `{"private_chef": `)

	_, err := New(filesys.OS(), s.settings(), &s.out).Run(context.Background())

	s.ErrorIs(err, document.ErrInvalidJSON)
}

func (s *RunnerTestSuite) TestRunUnknownGroup() {
	st := s.settings()
	st.Groups = []string{"nope"}

	_, err := New(filesys.OS(), st, &s.out).Run(context.Background())

	s.ErrorIs(err, rules.ErrUnknownGroup)
}

func (s *RunnerTestSuite) TestRulesFileExtendsCatalog() {
	svDir := filepath.Join(s.dir, "sv")
	s.Require().NoError(os.Mkdir(svDir, 0o755))
	s.write(s.input, `{"runit": {"sv_dir": "`+svDir+`"}, "private_chef": {}}`)

	rulesFile := filepath.Join(s.dir, "site.yaml")
	s.write(rulesFile, `
groups:
  - name: site
    rules:
      - {label: sv_dir, path: runit.sv_dir, check: path_exists_on_disk}
`)
	st := s.settings()
	st.RulesFile = rulesFile
	st.Groups = []string{"site"}

	r := New(filesys.OS(), st, &s.out)
	rs, err := r.Catalog()
	s.Require().NoError(err)
	s.Require().Len(rs, 1)

	rep, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.True(rep.Pass)
}

func (s *RunnerTestSuite) TestValidatorOpts() {
	s.write(s.input, `{"runit": {"sv_dir": "/opt/opscode/sv"}, "private_chef": {}}`)
	rulesFile := filepath.Join(s.dir, "site.yaml")
	s.write(rulesFile, `
groups:
  - name: site
    rules:
      - {label: sv_dir, path: runit.sv_dir, check: path_exists_on_disk}
`)
	st := s.settings()
	st.RulesFile = rulesFile
	st.Groups = []string{"site"}

	statFS := new(mocks.MockOsFS)
	statFS.On("Stat", "/opt/opscode/sv").Return(nil, fs.ErrPermission)
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rep, err := New(filesys.OS(), st, &s.out, WithValidatorOpts(
		validator.WithFS(statFS),
		validator.WithClock(func() time.Time { return started }),
	)).Run(context.Background())

	s.Require().ErrorIs(err, ErrFailed)
	s.Require().Len(rep.Results, 1)
	s.Equal(validator.CodeFilesystemCheck, rep.Results[0].Code)
	s.Equal(started, rep.StartedAt)
	statFS.AssertExpectations(s.T())
}

func (s *RunnerTestSuite) TestCatalogWithoutGroups() {
	st := s.settings()
	st.Groups = nil

	rs, err := New(filesys.OS(), st, &s.out).Catalog()

	s.Require().NoError(err)
	s.Len(rs, len(rules.Default()))
}

func (s *RunnerTestSuite) TestRunWritesReportAndMetrics() {
	st := s.settings()
	st.Format = report.FormatJSON
	st.ReportFile = filepath.Join(s.dir, "out", "report.json")
	st.MetricsFile = filepath.Join(s.dir, "confcheck.prom")

	rep, err := New(filesys.OS(), st, &s.out).Run(context.Background())
	s.Require().NoError(err)

	var stdout report.Document
	s.Require().NoError(json.Unmarshal(s.out.Bytes(), &stdout))
	s.Equal(rep.ID, stdout.ID)

	data, err := os.ReadFile(st.ReportFile)
	s.Require().NoError(err)
	var saved report.Document
	s.Require().NoError(json.Unmarshal(data, &saved))
	s.Equal(rep.ID, saved.ID)
	s.True(saved.Pass)

	prom, err := os.ReadFile(st.MetricsFile)
	s.Require().NoError(err)
	s.Contains(string(prom), "confcheck_run_pass 1")
}

func (s *RunnerTestSuite) TestRunRecordsHistory() {
	st, err := history.Open(filepath.Join(s.dir, "history.db"))
	s.Require().NoError(err)
	defer st.Close()

	set := s.settings()
	set.HistoryKeep = 2
	r := New(filesys.OS(), set, &s.out, WithHistory(st))

	var ids []string
	for i := 0; i < 3; i++ {
		rep, err := r.Run(context.Background())
		s.Require().NoError(err)
		ids = append(ids, rep.ID)
	}

	runs, err := st.Recent(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	got := []string{runs[0].ID, runs[1].ID}
	s.NotContains(got, ids[0], "oldest run is pruned")
	s.True(runs[0].Pass)
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}
