package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
)

const tenderDoc = `1 General
The contractor shall supply all materials.

7.1 Scope of metering works
- Supply and install meters for all feeders

7.2 Digital Power Meter
- Class 0.5S accuracy for active energy
- RS-485 Modbus RTU communication
- Backlit LCD display

8 Civil works
Trenching and cable laying.`

func TestFindSections_Explicit(t *testing.T) {
	sections := FindSections(tenderDoc, ClauseSelector{Clauses: []string{"7.2", "1"}})
	require.Len(t, sections, 2)

	assert.Equal(t, "1", sections[0].ClauseID)
	assert.Contains(t, sections[0].Content, "contractor")
	assert.Contains(t, sections[0].Content, "7.1 Scope", "explicit sections run to the next selected header")

	assert.Equal(t, "7.2", sections[1].ClauseID)
	assert.Equal(t, "Digital Power Meter", sections[1].Title)
	assert.Contains(t, sections[1].Content, "Civil works")
}

func TestFindSections_Auto(t *testing.T) {
	sections := FindSections(tenderDoc, ClauseSelector{})

	ids := make([]string, 0, len(sections))
	for _, s := range sections {
		ids = append(ids, s.ClauseID)
	}
	assert.Equal(t, []string{"7.1", "7.2"}, ids)

	assert.NotContains(t, sections[0].Content, "Class 0.5S")
	assert.Contains(t, sections[1].Content, "Backlit LCD")
}

func TestFindSections_AutoGroupsChildren(t *testing.T) {
	doc := `6.5 Power Quality Meters
6.5.1 Accuracy
Energy accuracy class 0.2S
6.5.2 Communication
Meter shall support Modbus TCP
6.6 Panel wiring
Meter wiring shall be labelled
Cables shall be tagged
Conduits as per drawing
9 Unrelated
nothing here`

	sections := FindSections(doc, ClauseSelector{})
	require.Len(t, sections, 2)

	combined := sections[0]
	assert.Equal(t, "6.5", combined.ClauseID)
	assert.Equal(t, "Combined requirements for 6.5", combined.Title)
	assert.Equal(t, []string{"Power Quality Meters", "Accuracy", "Communication"}, combined.ChildTitles)
	assert.Contains(t, combined.Content, "Modbus TCP")
	assert.NotContains(t, combined.Content, "Panel wiring")

	assert.Equal(t, "6.6", sections[1].ClauseID)
}

func TestMeterTypeFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Digital Power Meter", "Digital Power Meter"},
		{"POWER QUALITY METER SPECIFICATIONS", "Power Quality Meter"},
		{"Multifunction meters for feeders", "Multi-Function Meter"},
		{"Revenue meter", "Energy Meter"},
		{"Basic power meters", "Basic Power Meter"},
		{"Scope of works", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, MeterTypeFromTitle(tt.title))
		})
	}
	assert.Equal(t, "Power Quality Meter", MeterTypeFromTitle("Combined requirements for 6.5", "Power Quality Meters"))
}

func TestDedupe(t *testing.T) {
	specs := []string{
		"RS-485 Modbus RTU communication",
		"Modbus RTU communication over RS-485",
		"Class 0.5S accuracy",
		"  ",
		"Backlit LCD display",
	}
	got := Dedupe(specs, 0.7)
	assert.Equal(t, []string{"RS-485 Modbus RTU communication", "Class 0.5S accuracy", "Backlit LCD display"}, got)
}

func TestExtractor_DigitalPowerMeterScenario(t *testing.T) {
	svc := reasoning.NewScripted(reasoning.Rule{
		Contains: "Clause ID: 7.2",
		Response: "```json\n{\"specifications\": [\"Class 0.5S accuracy\", \"RS-485 Modbus RTU communication\", \"Backlit LCD display\"], \"meter_type\": \"Energy Meter\", \"has_sufficient_specs\": true, \"reasoning\": \"clear\"}\n```",
	})

	ex := NewExtractor(svc, DefaultConfig(), nil)
	reqs, failures, err := ex.Extract(context.Background(), tenderDoc, ClauseSelector{Clauses: []string{"7.2"}})
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, "7.2", req.ClauseID)
	assert.Contains(t, req.MeterType, "Digital Power Meter")
	assert.Len(t, req.Specifications, 3)
	assert.Contains(t, req.SourceText, "7.2 Digital Power Meter")

	calls := svc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.1, calls[0].Options.Temperature)
	assert.Contains(t, calls[0].Prompt, "The title indicates this is about a Digital Power Meter")
}

func TestExtractor_FailurePolicy(t *testing.T) {
	svc := reasoning.NewScripted(
		reasoning.Rule{Contains: "Clause ID: 7.1", Err: reasoning.ErrTimeout},
		reasoning.Rule{Contains: "Clause ID: 7.2", Response: "I could not find anything useful."},
		reasoning.Rule{Contains: "Clause ID: 1\n", Response: `{"specifications": [], "meter_type": "", "has_sufficient_specs": false}`},
	)

	ex := NewExtractor(svc, DefaultConfig(), nil)
	reqs, failures, err := ex.Extract(context.Background(), tenderDoc, ClauseSelector{Clauses: []string{"1", "7.1", "7.2"}})
	require.NoError(t, err)
	assert.Empty(t, reqs)
	require.Len(t, failures, 2)

	assert.Equal(t, "7.1", failures[0].ClauseID)
	assert.True(t, errors.Is(failures[0].Err, reasoning.ErrTimeout))
	assert.Equal(t, domain.ErrorTypeExtraction, domain.ErrorTypeOf(failures[1].Err))
}

func TestExtractor_ModelTypeFallback(t *testing.T) {
	svc := reasoning.NewScripted(reasoning.Rule{
		Contains: "Clause ID: 7.1",
		Response: `{"specifications": ["Meters for all feeders"], "meter_type": "Multi-Function Meter", "has_sufficient_specs": true}`,
	})
	ex := NewExtractor(svc, DefaultConfig(), nil)

	reqs, _, err := ex.Extract(context.Background(), tenderDoc, ClauseSelector{Clauses: []string{"7.1"}})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "Multi-Function Meter", reqs[0].MeterType)
}

func TestExtractor_EmptyDocument(t *testing.T) {
	ex := NewExtractor(reasoning.NewScripted(), DefaultConfig(), nil)
	_, _, err := ex.Extract(context.Background(), "  \n ", ClauseSelector{})
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}
