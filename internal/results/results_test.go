package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const analysisJSON = `{
  "hair_type": "wavy",
  "texture": "medium",
  "condition": "dry ends",
  "current_color": "level 6 ash brown",
  "damage_level": 4,
  "recommendations": ["bond builder before lightening"]
}`

func TestParseAnalysis(t *testing.T) {
	got, err := Parse[HairAnalysis](analysisJSON)
	require.NoError(t, err)
	assert.Equal(t, "wavy", got.HairType)
	assert.Equal(t, 4, got.DamageLevel)
}

func TestParseStripsFencesAndProse(t *testing.T) {
	raw := "Here is the analysis:\n```json\n" + analysisJSON + "\n```"
	got, err := Parse[HairAnalysis](raw)
	require.NoError(t, err)
	assert.Equal(t, "medium", got.Texture)
}

func TestParseRejectsUnusable(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"prose only":      "Sorry, I can't help with that.",
		"broken json":     `{"hair_type": "wavy",`,
		"missing field":   `{"hair_type": "wavy", "texture": "fine", "condition": "ok", "recommendations": ["trim"]}`,
		"out of range":    `{"hair_type":"a","texture":"b","condition":"c","current_color":"d","damage_level":42,"recommendations":["x"]}`,
		"empty list item": `{"hair_type":"a","texture":"b","condition":"c","current_color":"d","recommendations":[""]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse[HairAnalysis](raw)
			assert.ErrorIs(t, err, ErrUnusableResponse)
		})
	}
}

func TestParseRecipeTreatmentEnum(t *testing.T) {
	valid := `{"treatment_type":"color","summary":"balayage","steps":[{"order":1,"title":"Lighten","instructions":"20 vol, 30 min","products":[{"name":"lightener","amount":"30g"}],"duration_minutes":30}],"estimated_total_minutes":90}`
	got, err := Parse[Recipe](valid)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 1)
	assert.Equal(t, "lightener", got.Steps[0].Products[0].Name)

	invalid := `{"treatment_type":"relaxer","summary":"x","steps":[{"order":1,"title":"a","instructions":"b"}]}`
	_, err = Parse[Recipe](invalid)
	assert.ErrorIs(t, err, ErrUnusableResponse)
}

func TestParseTimelineRequiresWeeks(t *testing.T) {
	_, err := Parse[TimelinePrediction](`{"summary":"fades","weeks":[]}`)
	assert.ErrorIs(t, err, ErrUnusableResponse)

	got, err := Parse[TimelinePrediction](`{"summary":"fades","weeks":[{"week":2,"description":"slight fade","image_prompt":"hair two weeks after color"}]}`)
	require.NoError(t, err)
	assert.Empty(t, got.Weeks[0].ImageURL)
}

func TestParseCompositeValidatesAngles(t *testing.T) {
	raw := `{"summary":"even","views":[{"angle":"side","notes":"x"}],"overall":{"hair_type":"a","texture":"b","condition":"c","current_color":"d","recommendations":["x"]}}`
	_, err := Parse[CompositeAnalysis](raw)
	assert.ErrorIs(t, err, ErrUnusableResponse)
}
