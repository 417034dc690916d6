package validator

import (
	"errors"
	"io/fs"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/multierr"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/mocks"
	"github.com/lc/confcheck/internal/rules"
)

const runningConfig = `{
  "private_chef": {
    "fips_enabled": false,
    "postgresql": {"vip": "127.0.0.1", "port": 5432, "db_superuser": "opscode-pgsql"},
    "opscode-erchef": {"sql_user": "opscode_chef", "search_queue_mode": "batch"},
    "rabbitmq": {"user": "chef", "actions_user": "actions", "management_user": "rabbitmgmt"},
    "ldap": {"enabled": null},
    "keepalived": {
      "enable": false,
      "vrrp_instance_ipaddress": "192.168.4.1",
      "vrrp_instance_ipaddress_dev": "eth0",
      "vrrp_instance_interface": "eth0"
    },
    "redis_lb": {"vip": "127.0.0.1", "port": 16379}
  },
  "runit": {"sv_dir": "/opt/opscode/sv"}
}`

type ValidatorTestSuite struct {
	suite.Suite
	fs *mocks.MockOsFS
	v  *Validator
}

func (s *ValidatorTestSuite) SetupTest() {
	s.fs = new(mocks.MockOsFS)
	s.v = New(WithFS(s.fs), WithParallelism(4))
}

func (s *ValidatorTestSuite) parse(in string) document.Value {
	doc, err := document.Parse(strings.NewReader(in))
	s.Require().NoError(err)
	return doc
}

func rule(path string, kind rules.Kind, values ...document.Value) rules.Rule {
	p, err := document.ParsePath(path)
	if err != nil {
		panic(err)
	}
	return rules.Rule{
		Group:     "test",
		Label:     path,
		Path:      p,
		Predicate: rules.Predicate{Kind: kind, Values: values},
	}
}

func (s *ValidatorTestSuite) TestDefaultCatalogPasses() {
	s.fs.On("Stat", "/opt/opscode/sv").Return(mocks.FileInfo{FName: "sv", FIsDir: true}, nil).Once()

	report := s.v.Validate(s.parse(runningConfig), rules.Default())

	s.True(report.Pass, "failures: %v", report.Err())
	s.Len(report.Results, len(rules.Default()))
	s.NoError(report.Err())
	s.NotEmpty(report.ID)
	s.fs.AssertExpectations(s.T())
}

func (s *ValidatorTestSuite) TestOneFailureFailsTheRun() {
	s.fs.On("Stat", "/opt/opscode/sv").Return(mocks.FileInfo{FName: "sv", FIsDir: true}, nil)
	doc := strings.Replace(runningConfig, `"port": 5432`, `"port": 0`, 1)

	report := s.v.Validate(s.parse(doc), rules.Default())

	s.False(report.Pass)
	passed, failed := report.Counts()
	s.Equal(2, failed, "postgresql/port is declared in two groups")
	s.Equal(len(report.Results)-2, passed)
	for _, f := range report.Failures() {
		s.Equal("postgresql/port", f.Rule.Label)
		s.Equal(CodePredicateUnmet, f.Code)
	}
	s.Len(multierr.Errors(report.Err()), 2)
	s.True(errors.Is(report.Err(), ErrRuleFailed))
}

func (s *ValidatorTestSuite) TestCases() {
	testCases := []struct {
		name   string
		doc    string
		rule   rules.Rule
		expect Code // empty means pass
	}{
		{name: "missing path", doc: `{"a": {}}`, rule: rule("a.b.c", rules.NonEmptyString), expect: CodeMissingPath},
		{name: "type mismatch", doc: `{"a": {"b": {}}}`, rule: rule("a.b", rules.NonEmptyString), expect: CodeTypeMismatch},
		{name: "zero value", doc: `{"port": 0}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{
			name:   "one of",
			doc:    `{"mode": "batch"}`,
			rule:   rule("mode", rules.OneOf, document.String("rabbitmq"), document.String("batch"), document.String("inline")),
			expect: "",
		},

		{name: "string", doc: `{"a": "x"}`, rule: rule("a", rules.NonEmptyString)},
		{name: "number stringifies", doc: `{"a": 5}`, rule: rule("a", rules.NonEmptyString)},
		{name: "bool stringifies", doc: `{"a": false}`, rule: rule("a", rules.NonEmptyString)},
		{name: "empty string", doc: `{"a": ""}`, rule: rule("a", rules.NonEmptyString), expect: CodePredicateUnmet},
		{name: "null string", doc: `{"a": null}`, rule: rule("a", rules.NonEmptyString), expect: CodePredicateUnmet},
		{name: "list is not a string", doc: `{"a": ["x"]}`, rule: rule("a", rules.NonEmptyString), expect: CodeTypeMismatch},
		{name: "missing leaf", doc: `{"a": {}}`, rule: rule("a.b", rules.NonEmptyString), expect: CodeMissingPath},
		{name: "through a scalar", doc: `{"a": "x"}`, rule: rule("a.b", rules.NonEmptyString), expect: CodeMissingPath},

		{name: "port", doc: `{"port": 5432}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "negative", doc: `{"port": -1}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "fraction truncates to zero", doc: `{"port": 0.5}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "negative fraction truncates to zero", doc: `{"port": -0.9}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "fraction above one", doc: `{"port": 1.5}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "huge number", doc: `{"port": 1e999}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "tiny number", doc: `{"port": 1e-999}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "fraction string", doc: `{"port": "0.5"}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "exponent string", doc: `{"port": "1e999"}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "zero exponent string", doc: `{"port": "0e5"}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "signed string", doc: `{"port": " -12abc"}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "underscored string", doc: `{"port": "0_000_1"}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "long digit string", doc: `{"port": "000000000000000000000000000000000001"}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "zero string", doc: `{"port": "000"}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "zero float", doc: `{"port": 0.0}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "numeric string", doc: `{"port": "5432"}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "numeric prefix", doc: `{"port": "6379/tcp"}`, rule: rule("port", rules.NonZeroNumber)},
		{name: "non-numeric string", doc: `{"port": "localhost"}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "null number", doc: `{"port": null}`, rule: rule("port", rules.NonZeroNumber), expect: CodePredicateUnmet},
		{name: "bool number", doc: `{"port": true}`, rule: rule("port", rules.NonZeroNumber), expect: CodeTypeMismatch},
		{name: "map number", doc: `{"port": {}}`, rule: rule("port", rules.NonZeroNumber), expect: CodeTypeMismatch},

		{name: "true", doc: `{"ldap": {"enabled": true}}`, rule: rule("ldap.enabled", rules.BooleanOrNull)},
		{name: "false", doc: `{"ldap": {"enabled": false}}`, rule: rule("ldap.enabled", rules.BooleanOrNull)},
		{name: "null", doc: `{"ldap": {"enabled": null}}`, rule: rule("ldap.enabled", rules.BooleanOrNull)},
		{name: "absent leaf is null", doc: `{"ldap": {}}`, rule: rule("ldap.enabled", rules.BooleanOrNull)},
		{name: "absent parent", doc: `{}`, rule: rule("ldap.enabled", rules.BooleanOrNull), expect: CodeMissingPath},
		{name: "string bool", doc: `{"ldap": {"enabled": "true"}}`, rule: rule("ldap.enabled", rules.BooleanOrNull), expect: CodeTypeMismatch},

		{
			name:   "not a member",
			doc:    `{"mode": "kafka"}`,
			rule:   rule("mode", rules.OneOf, document.String("rabbitmq"), document.String("batch")),
			expect: CodePredicateUnmet,
		},
		{
			name: "bool member",
			doc:  `{"fips_enabled": false}`,
			rule: rule("fips_enabled", rules.OneOf, document.Bool(true), document.Bool(false)),
		},
		{
			name:   "null is not a bool member",
			doc:    `{"fips_enabled": null}`,
			rule:   rule("fips_enabled", rules.OneOf, document.Bool(true), document.Bool(false)),
			expect: CodePredicateUnmet,
		},
		{
			name: "numeric member",
			doc:  `{"port": 443.0}`,
			rule: rule("port", rules.OneOf, document.Int(80), document.Int(443)),
		},
		{
			name:   "map member",
			doc:    `{"mode": {"x": 1}}`,
			rule:   rule("mode", rules.OneOf, document.String("batch")),
			expect: CodeTypeMismatch,
		},

		{name: "present value", doc: `{"k": {"ip": "10.0.0.1"}}`, rule: rule("k.ip", rules.Present)},
		{name: "present null", doc: `{"k": {"ip": null}}`, rule: rule("k.ip", rules.Present)},
		{name: "present missing", doc: `{"k": {}}`, rule: rule("k.ip", rules.Present), expect: CodeMissingPath},

		{name: "empty disk path", doc: `{"sv": ""}`, rule: rule("sv", rules.PathExistsOnDisk), expect: CodePredicateUnmet},
		{name: "disk path map", doc: `{"sv": {}}`, rule: rule("sv", rules.PathExistsOnDisk), expect: CodeTypeMismatch},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			report := s.v.Validate(s.parse(tc.doc), []rules.Rule{tc.rule})
			s.Require().Len(report.Results, 1)

			res := report.Results[0]
			if tc.expect == "" {
				s.True(res.Passed(), "reason: %s", res.Reason)
				s.Empty(res.Code)
				s.True(report.Pass)
				return
			}
			s.False(res.Passed())
			s.Equal(tc.expect, res.Code, "reason: %s", res.Reason)
			s.NotEmpty(res.Reason)
			s.False(report.Pass)
		})
	}
}

func (s *ValidatorTestSuite) TestPathExistsOnDisk() {
	s.fs.On("Stat", "/opt/opscode/sv").Return(mocks.FileInfo{FName: "sv", FIsDir: true}, nil)
	s.fs.On("Stat", "/missing").Return(nil, fs.ErrNotExist)
	s.fs.On("Stat", "/forbidden").Return(nil, fs.ErrPermission)

	doc := s.parse(`{"a": "/opt/opscode/sv", "b": "/missing", "c": "/forbidden"}`)
	report := s.v.Validate(doc, []rules.Rule{
		rule("a", rules.PathExistsOnDisk),
		rule("b", rules.PathExistsOnDisk),
		rule("c", rules.PathExistsOnDisk),
	})

	s.Require().Len(report.Results, 3)
	s.True(report.Results[0].Passed())
	s.Equal(CodePredicateUnmet, report.Results[1].Code)
	s.Equal(CodeFilesystemCheck, report.Results[2].Code)
	s.Contains(report.Results[2].Reason, "permission denied")
	s.fs.AssertNumberOfCalls(s.T(), "Stat", 3)
}

func (s *ValidatorTestSuite) TestInvalidDocument() {
	report := s.v.Validate(s.parse(`[{"private_chef": {}}]`), rules.Default())

	s.False(report.Pass)
	s.Require().Len(report.Results, 1)
	s.Equal(CodeInvalidDocument, report.Results[0].Code)
	s.Contains(report.Results[0].Reason, "list")
	s.fs.AssertNotCalled(s.T(), "Stat", mock.Anything)
}

func (s *ValidatorTestSuite) TestEmptyRuleSetPasses() {
	report := s.v.Validate(s.parse(`{}`), nil)
	s.True(report.Pass)
	s.Empty(report.Results)
	s.NoError(report.Err())
}

func (s *ValidatorTestSuite) TestOneResultPerRule() {
	s.fs.On("Stat", mock.Anything).Return(nil, fs.ErrNotExist)
	docs := []string{`{}`, `{"private_chef": 1}`, `{"private_chef": {}}`, runningConfig}

	for _, d := range docs {
		report := s.v.Validate(s.parse(d), rules.Default())
		s.Len(report.Results, len(rules.Default()), d)
	}
}

func (s *ValidatorTestSuite) TestOrderIsDeclarationOrder() {
	rng := rand.New(rand.NewSource(42))
	var rs []rules.Rule
	for i := 0; i < 200; i++ {
		r := rule("present", rules.Present)
		if rng.Intn(2) == 0 {
			r = rule("absent", rules.Present)
		}
		r.Label = strings.Repeat("x", i+1)
		rs = append(rs, r)
	}

	doc := s.parse(`{"present": 1}`)
	for _, n := range []int{1, 3, 16, 256} {
		report := New(WithFS(s.fs), WithParallelism(n)).Validate(doc, rs)
		s.Require().Len(report.Results, len(rs))
		for i, res := range report.Results {
			s.Equal(rs[i].Label, res.Rule.Label, "parallelism %d index %d", n, i)
			s.Equal(rs[i].Path[0] == "present", res.Passed())
		}
	}
}

func (s *ValidatorTestSuite) TestMissingPathReason() {
	doc := s.parse(`{"a": {"b": "x"}}`)
	report := s.v.Validate(doc, []rules.Rule{
		rule("a.c.d", rules.Present),
		rule("a.b.c", rules.Present),
		rule("z", rules.Present),
	})

	s.Equal(`key "c" not found under "a"`, report.Results[0].Reason)
	s.Equal(`"a.b" is a string, not a map`, report.Results[1].Reason)
	s.Equal(`key "z" not found under the document root`, report.Results[2].Reason)
	s.Nil(report.Results[0].Value)
}

func (s *ValidatorTestSuite) TestDuration() {
	ticks := []time.Time{
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 12, 0, 2, 0, time.UTC),
	}
	i := 0
	clock := func() time.Time {
		t := ticks[i]
		if i < len(ticks)-1 {
			i++
		}
		return t
	}

	report := New(WithFS(s.fs), WithClock(clock)).Validate(s.parse(`{}`), nil)
	s.Equal(ticks[0], report.StartedAt)
	s.Equal(2*time.Second, report.Duration)
}

func (s *ValidatorTestSuite) TestCountByCode() {
	doc := s.parse(`{"a": "", "b": {}}`)
	report := s.v.Validate(doc, []rules.Rule{
		rule("a", rules.NonEmptyString),
		rule("b", rules.NonEmptyString),
		rule("c.d", rules.Present),
	})

	counts := report.CountByCode()
	s.Equal(1, counts[CodePredicateUnmet])
	s.Equal(1, counts[CodeTypeMismatch])
	s.Equal(1, counts[CodeMissingPath])
	s.Equal(0, counts[CodeFilesystemCheck])
	s.Len(counts, len(Codes))
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}
