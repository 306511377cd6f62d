package ranking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

const (
	primaryMarker     = "You are an electrical engineer"
	constrainedMarker = "Rank these power meters"
	proposalMarker    = "Match these meter requirements"
	rerankMarker      = "Rank these meter models"
	summaryMarker     = "Analyze how well"
)

// catalogueSource filters an in-memory product list the way the SQL store applies LIKE patterns.
type catalogueSource struct {
	products []domain.Candidate
	filters  []domain.CandidateFilter
	err      error
}

func likeMatch(value, pattern string) bool {
	value = strings.ToLower(value)
	pattern = strings.ToLower(pattern)
	core := strings.Trim(pattern, "%")
	switch {
	case strings.HasPrefix(pattern, "%") && strings.HasSuffix(pattern, "%"):
		return strings.Contains(value, core)
	case strings.HasSuffix(pattern, "%"):
		return strings.HasPrefix(value, core)
	default:
		return value == core
	}
}

func (s *catalogueSource) Candidates(_ context.Context, f domain.CandidateFilter) ([]domain.Candidate, error) {
	s.filters = append(s.filters, f)
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Candidate
	for _, p := range s.products {
		keep := f.IsEmpty()
		for _, mp := range f.ModelPatterns {
			keep = keep || likeMatch(p.ModelNumber, mp)
		}
		for _, dp := range f.DescriptionPatterns {
			keep = keep || likeMatch(p.Description, dp)
		}
		if keep {
			out = append(out, p)
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func product(id, model, desc string) domain.Candidate {
	return domain.Candidate{ProductID: id, ModelNumber: model, Description: desc, Source: domain.SourceDatabase}
}

func testCatalogue() *catalogueSource {
	return &catalogueSource{products: []domain.Candidate{
		product("1", "PM2120", "Basic power meter with Modbus"),
		product("2", "PM5340", "Power meter with Ethernet and Modbus"),
		product("3", "PM5560", "Power meter with dual Ethernet, class 0.2S energy"),
		product("4", "PM8240", "Power quality meter with harmonic analysis"),
		product("5", "ION9000", "Premium power quality meter"),
		product("6", "iEM3155", "Energy meter for billing"),
	}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SummarizeCompliance = false
	return cfg
}

func digitalRequirement(specs ...string) domain.Requirement {
	if len(specs) == 0 {
		specs = []string{"RS-485 Modbus RTU communication", "Energy accuracy class 0.5S"}
	}
	return domain.Requirement{ClauseID: "7.2", MeterType: "Digital Power Meter", Specifications: specs}
}

func models(matches []domain.RankedMatch) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.ModelNumber)
	}
	return out
}

func TestRank_PrimaryFiltersHallucinations(t *testing.T) {
	svc := reasoning.NewScripted(reasoning.Rule{
		Contains: primaryMarker,
		Response: `{"analysis": "standard", "rankings": [
			{"model": "PM5560", "score": 90, "value_score": 80, "fit_reasoning": "Dual Ethernet", "value_reasoning": "Mid-range"},
			{"model": "PM9999", "score": 99, "value_score": 99, "fit_reasoning": "Invented"},
			{"model": "PM5340", "score": 70, "fit_reasoning": "Adequate"}
		]}`,
	})
	source := testCatalogue()

	ranker := NewRanker(svc, source, nil, testConfig(), nil)
	got, err := ranker.Rank(context.Background(), digitalRequirement())
	require.NoError(t, err)

	assert.Equal(t, []string{"PM5560", "PM5340"}, models(got))
	assert.Equal(t, 85, got[0].Score)
	assert.Equal(t, 70, got[1].Score)
	assert.Equal(t, "Dual Ethernet Value consideration: Mid-range", got[0].Reasoning)
	assert.Equal(t, "3", got[0].ProductID)
	assert.Equal(t, domain.SourceDatabase, got[0].Source)

	require.NotEmpty(t, source.filters)
	assert.Equal(t, []string{"pm5%"}, source.filters[0].ModelPatterns)
	assert.Equal(t, 25, source.filters[0].Limit)
	assert.Zero(t, svc.CallCount(constrainedMarker))
}

func TestRank_ConstrainedAfterAllHallucinated(t *testing.T) {
	svc := reasoning.NewScripted(
		reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [{"model": "PM5999", "score": 95}]}`},
		reasoning.Rule{Contains: constrainedMarker, Response: `{"rankings": [{"model": "PM5340", "score": 77, "reasoning": "Fits", "value_assessment": "Cheap"}]}`},
	)

	ranker := NewRanker(svc, testCatalogue(), nil, testConfig(), nil)
	got, err := ranker.Rank(context.Background(), digitalRequirement())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PM5340", got[0].ModelNumber)
	assert.Equal(t, 77, got[0].Score)
	assert.Equal(t, "Fits Value assessment: Cheap", got[0].Reasoning)
}

func TestRank_RuleBasedSelection(t *testing.T) {
	tests := []struct {
		name  string
		specs []string
		want  []string
	}{
		{"cost sensitive", []string{"Basic economic metering"}, []string{"PM2120", "PM5340", "iEM3155", "PM8240", "ION9000"}},
		{"high end", []string{"Harmonic analysis to 63rd order"}, []string{"ION9000", "PM8240", "PM5340", "iEM3155", "PM2120"}},
		{"balanced", []string{"RS-485 communication"}, []string{"PM5340", "PM8240", "PM2120", "ION9000", "iEM3155"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := reasoning.NewScripted(reasoning.Rule{Contains: primaryMarker, Err: reasoning.ErrTimeout})
			req := domain.Requirement{ClauseID: "4", MeterType: "Power Meter", Specifications: tt.specs}

			cfg := testConfig()
			cfg.MaxResults = 10
			ranker := NewRanker(svc, testCatalogue(), nil, cfg, nil)
			got, err := ranker.Rank(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, tt.want, models(got))
			for _, m := range got {
				assert.GreaterOrEqual(t, m.Score, 20)
			}
		})
	}
}

func TestRank_KnowledgeBaseOnlyAppliesTiers(t *testing.T) {
	svc := reasoning.NewScripted(reasoning.Rule{
		Contains: proposalMarker,
		Response: `{"matches": [
			{"series": "ION9000_Series", "model": "ION9000", "score": 80, "reasoning": "Premium"},
			{"series": "PM2000_Series", "model": "PM2120", "score": 80, "reasoning": "Basic"},
			{"series": "PM8000_Series", "model": "PM8240", "score": 30},
			{"series": "Made_Up", "model": "XM100", "score": 100},
			{"series": "PM5000_Series", "model": "PM53xx"}
		]}`,
	})
	kb := staticCatalogue{{Key: "PM2000_Series", Model: "PM2000"}}
	proposer := NewKnowledgeProposer(svc, kb, reasoning.Options{}, nil)

	req := domain.Requirement{ClauseID: "3", MeterType: "Power Meter", Specifications: []string{"Simple budget metering"}}
	ranker := NewRanker(svc, nil, proposer, testConfig(), nil)
	got, err := ranker.Rank(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"PM2120", "PM53xx", "ION9000", "PM8240"}, models(got))
	assert.Equal(t, 100, got[0].Score)
	assert.True(t, strings.HasSuffix(got[0].Reasoning, "(Selected for cost-effectiveness)"))
	assert.Equal(t, 66, got[1].Score)
	assert.Equal(t, 48, got[2].Score)
	assert.Equal(t, 30, got[3].Score, "floor applies")
	assert.Equal(t, "KB_PM2120", got[0].ProductID)
	assert.Equal(t, "From PM2000_Series", got[0].Description)
	assert.Equal(t, domain.SourceKnowledgeBase, got[0].Source)
}

func TestRank_BothSourcesReranked(t *testing.T) {
	svc := reasoning.NewScripted(
		reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [{"model": "PM5560", "score": 80}, {"model": "PM5340", "score": 70}]}`},
		reasoning.Rule{Contains: proposalMarker, Response: `{"matches": [{"series": "PM5000_Series", "model": "PM5563", "score": 75}]}`},
		reasoning.Rule{Contains: rerankMarker, Response: "```json\n[{\"index\": 2, \"final_score\": 92, \"value_reasoning\": \"Best balance\"}, {\"index\": 7, \"final_score\": 99}]\n```"},
	)
	proposer := NewKnowledgeProposer(svc, staticCatalogue{{Key: "PM5000_Series"}}, reasoning.Options{}, nil)

	ranker := NewRanker(svc, testCatalogue(), proposer, testConfig(), nil)
	got, err := ranker.Rank(context.Background(), digitalRequirement())
	require.NoError(t, err)

	assert.Equal(t, []string{"PM5563", "PM5560", "PM5340"}, models(got))
	assert.Equal(t, 92, got[0].Score)
	assert.Contains(t, got[0].Reasoning, "Value assessment: Best balance")
	assert.Equal(t, 80, got[1].Score, "unranked entries keep their score")
}

func TestRank_RerankFailureSortsByScore(t *testing.T) {
	svc := reasoning.NewScripted(
		reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [{"model": "PM5340", "score": 60}]}`},
		reasoning.Rule{Contains: proposalMarker, Response: `{"matches": [{"series": "PM5000_Series", "model": "PM5560", "score": 60}, {"series": "PM8000_Series", "model": "PM8244", "score": 88}]}`},
		reasoning.Rule{Contains: rerankMarker, Response: "no idea"},
	)
	proposer := NewKnowledgeProposer(svc, staticCatalogue{{Key: "PM5000_Series"}}, reasoning.Options{}, nil)

	ranker := NewRanker(svc, testCatalogue(), proposer, testConfig(), nil)
	got, err := ranker.Rank(context.Background(), digitalRequirement())
	require.NoError(t, err)

	assert.Equal(t, []string{"PM8244", "PM5340", "PM5560"}, models(got), "database wins score ties")
	assert.Equal(t, domain.SourceDatabase, got[1].Source)
}

func TestRank_DeduplicatesModels(t *testing.T) {
	t.Run("primary ranking repeats a model", func(t *testing.T) {
		svc := reasoning.NewScripted(reasoning.Rule{
			Contains: primaryMarker,
			Response: `{"rankings": [
				{"model": "PM5340", "score": 80},
				{"model": "PM5340", "score": 75},
				{"model": "PM5560", "score": 70}
			]}`,
		})

		ranker := NewRanker(svc, testCatalogue(), nil, testConfig(), nil)
		got, err := ranker.Rank(context.Background(), digitalRequirement())
		require.NoError(t, err)

		assert.Equal(t, []string{"PM5340", "PM5560"}, models(got))
		assert.Equal(t, 80, got[0].Score, "first entry is kept")
	})

	t.Run("database and knowledge base name the same model", func(t *testing.T) {
		svc := reasoning.NewScripted(
			reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [{"model": "PM5340", "score": 60}]}`},
			reasoning.Rule{Contains: proposalMarker, Response: `{"matches": [{"series": "PM5000_Series", "model": "PM5340", "score": 88}]}`},
			reasoning.Rule{Contains: rerankMarker, Response: "no idea"},
		)
		proposer := NewKnowledgeProposer(svc, staticCatalogue{{Key: "PM5000_Series"}}, reasoning.Options{}, nil)

		ranker := NewRanker(svc, testCatalogue(), proposer, testConfig(), nil)
		got, err := ranker.Rank(context.Background(), digitalRequirement())
		require.NoError(t, err)

		require.Equal(t, []string{"PM5340"}, models(got))
		assert.Equal(t, 88, got[0].Score)
		assert.Equal(t, domain.SourceKnowledgeBase, got[0].Source)
	})

	t.Run("re-rank keeps one entry per model", func(t *testing.T) {
		svc := reasoning.NewScripted(
			reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [{"model": "PM5560", "score": 70}]}`},
			reasoning.Rule{Contains: proposalMarker, Response: `{"matches": [{"series": "PM5000_Series", "model": "PM5560", "score": 65}, {"series": "PM8000_Series", "model": "PM8244", "score": 60}]}`},
			reasoning.Rule{Contains: rerankMarker, Response: `[{"index": 1, "final_score": 90}, {"index": 0, "final_score": 85}, {"index": 2, "final_score": 50}]`},
		)
		proposer := NewKnowledgeProposer(svc, staticCatalogue{{Key: "PM5000_Series"}}, reasoning.Options{}, nil)

		ranker := NewRanker(svc, testCatalogue(), proposer, testConfig(), nil)
		got, err := ranker.Rank(context.Background(), digitalRequirement())
		require.NoError(t, err)

		assert.Equal(t, []string{"PM5560", "PM8244"}, models(got))
		assert.Equal(t, domain.SourceKnowledgeBase, got[0].Source)
		assert.Equal(t, 90, got[0].Score)
	})
}

func TestRank_ResultsStayWithinPoolAndLineup(t *testing.T) {
	responses := []string{
		`{"rankings": [{"model": "PM5560", "score": 90}, {"model": "PM5560X", "score": 99}, {"model": "ACME-1", "score": 100}]}`,
		`{"rankings": [{"model": "pm5560", "score": 90}]}`,
		`not json at all`,
		`{"rankings": []}`,
	}
	proposals := []string{
		`{"matches": [{"model": "PM2230"}, {"model": "PM7777"}]}`,
		`{"matches": [{"model": "iEM3xx"}, {"model": "ION7650"}]}`,
		`garbage`,
	}

	for _, primary := range responses {
		for _, proposal := range proposals {
			svc := reasoning.NewScripted(
				reasoning.Rule{Contains: primaryMarker, Response: primary},
				reasoning.Rule{Contains: constrainedMarker, Response: primary},
				reasoning.Rule{Contains: proposalMarker, Response: proposal},
				reasoning.Rule{Contains: rerankMarker, Response: `[{"index": 0, "final_score": 50}]`},
			)
			source := testCatalogue()
			proposer := NewKnowledgeProposer(svc, staticCatalogue{{Key: "PM5000_Series"}}, reasoning.Options{}, nil)
			ranker := NewRanker(svc, source, proposer, testConfig(), nil)

			got, err := ranker.Rank(context.Background(), digitalRequirement())
			require.NoError(t, err)
			require.LessOrEqual(t, len(got), 5)

			allow := newAllowList(source.products, KnownModels)
			for _, m := range got {
				assert.True(t, allow.Allowed(m.ModelNumber), "model %q from primary %q / proposal %q", m.ModelNumber, primary, proposal)
				assert.GreaterOrEqual(t, m.Score, 0)
				assert.LessOrEqual(t, m.Score, 100)
			}
		}
	}
}

func TestRank_CandidatePoolFallsBack(t *testing.T) {
	source := &catalogueSource{products: []domain.Candidate{
		product("9", "XYZ100", "Generic power monitoring device"),
	}}
	svc := reasoning.NewScripted(reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [{"model": "XYZ100", "score": 64}]}`})

	req := domain.Requirement{ClauseID: "9", MeterType: "Power Quality Meter", Specifications: []string{"Logging"}}
	ranker := NewRanker(svc, source, nil, testConfig(), nil)
	got, err := ranker.Rank(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, source.filters, 2)
	assert.Equal(t, []string{"pm8%", "ion%"}, source.filters[0].ModelPatterns)
	assert.Equal(t, []string{"%harmonic%"}, source.filters[0].DescriptionPatterns)
	assert.Contains(t, source.filters[1].DescriptionPatterns, "%monitoring%")
	assert.Equal(t, []string{"XYZ100"}, models(got))
}

func TestRank_NoCandidates(t *testing.T) {
	source := &catalogueSource{err: errors.New("database is locked")}
	ranker := NewRanker(reasoning.NewScripted(), source, nil, testConfig(), nil)

	got, err := ranker.Rank(context.Background(), digitalRequirement())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, source.filters, 3)
}

func TestRank_MaxResultsAndSummaries(t *testing.T) {
	svc := reasoning.NewScripted(
		reasoning.Rule{Contains: primaryMarker, Response: `{"rankings": [
			{"model": "PM2120", "score": 60}, {"model": "PM5340", "score": 61}, {"model": "PM5560", "score": 62},
			{"model": "PM8240", "score": 63}, {"model": "ION9000", "score": 64}, {"model": "iEM3155", "score": 65}
		]}`},
		reasoning.Rule{Contains: "Ethernet and Modbus", Response: `{"compliance": {"RS-485 Modbus RTU communication": "✓ Fully supported - Modbus"}}`},
		reasoning.Rule{Contains: summaryMarker, Err: reasoning.ErrService},
	)

	cfg := DefaultConfig()
	ranker := NewRanker(svc, testCatalogue(), nil, cfg, nil)
	req := domain.Requirement{ClauseID: "5", MeterType: "Power Meter", Specifications: []string{"RS-485 Modbus RTU communication"}}
	got, err := ranker.Rank(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "iEM3155", got[0].ModelNumber)

	for _, m := range got {
		require.Contains(t, m.SpecCompliance, "RS-485 Modbus RTU communication")
	}
	byModel := make(map[string]domain.RankedMatch)
	for _, m := range got {
		byModel[m.ModelNumber] = m
	}
	assert.Equal(t, "✓ Fully supported - Modbus", byModel["PM5340"].SpecCompliance["RS-485 Modbus RTU communication"])
	assert.NotContains(t, byModel, "PM2120")
	assert.True(t, strings.HasPrefix(byModel["PM5560"].SpecCompliance["RS-485 Modbus RTU communication"], "?"))
}

func TestDetectSignals(t *testing.T) {
	tests := []struct {
		specs []string
		want  Signals
	}{
		{[]string{"Cost-effective metering"}, Signals{CostSensitive: true}},
		{[]string{"Class 0.2S accuracy"}, Signals{HighEnd: true}},
		{[]string{"Class 0.5S accuracy"}, Signals{}},
		{[]string{"Precision measurement", "basic display"}, Signals{CostSensitive: true, HighEnd: true}},
		{nil, Signals{}},
	}
	for _, tt := range tests {
		got := DetectSignals(domain.Requirement{Specifications: tt.specs})
		assert.Equal(t, tt.want, got, "%v", tt.specs)
	}
	assert.Equal(t, "cost_sensitive", Signals{CostSensitive: true, HighEnd: true}.Posture())
}

func TestAllowList(t *testing.T) {
	allow := newAllowList([]domain.Candidate{product("1", "ABC1", "")}, KnownModels)

	assert.True(t, allow.Allowed("ABC1"))
	assert.True(t, allow.Allowed("PM8343"))
	assert.True(t, allow.Allowed("PM83xx"))
	assert.True(t, allow.Allowed("iEM3xx"))
	assert.False(t, allow.Allowed("PM84xx"))
	assert.False(t, allow.Allowed("xx"))
	assert.False(t, allow.Allowed("PM5999"))
	assert.False(t, allow.Allowed(""))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.RankingConfig{
		MaxResults: 3,
		CostSensitive: []config.TierAdjustment{
			{Prefix: "pm2", Multiplier: 1.5},
		},
	}, 0)

	assert.Equal(t, 3, cfg.MaxResults)
	assert.Equal(t, 25, cfg.CandidateLimit)
	require.Len(t, cfg.CostSensitive, 1)
	assert.Equal(t, "PM2", cfg.CostSensitive[0].Prefix)
	assert.Equal(t, " (Selected for cost-effectiveness)", cfg.CostSensitive[0].Note)
	assert.Equal(t, DefaultHighEnd, cfg.HighEnd)
}

func TestKeywordSummary(t *testing.T) {
	got := KeywordSummary([]string{"Modbus RTU over RS-485", "Class 0.2S accuracy", "IP65 enclosure"},
		"Power meter with Modbus RTU, RS-485 port, class 0.2S accuracy")

	assert.True(t, strings.HasPrefix(got["Modbus RTU over RS-485"], "✓"))
	assert.True(t, strings.HasPrefix(got["Class 0.2S accuracy"], "✓"))
	assert.Equal(t, "? Not stated in product description - needs verification", got["IP65 enclosure"])
}

type staticCatalogue []storage.SeriesSummary

func (c staticCatalogue) Catalogue() []storage.SeriesSummary { return c }
