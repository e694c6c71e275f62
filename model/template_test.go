package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsDeep(t *testing.T) {
	orig := &TemplateDefinition{
		ID:        "t1",
		Name:      "original",
		Variables: []DeclaredVariable{{Name: "x", Type: VariableString}},
		Tags:      []string{"a"},
		Metadata:  map[string]any{"k": "v"},
	}

	clone := orig.Clone()
	clone.Name = "changed"
	clone.Variables[0].Name = "y"
	clone.Tags[0] = "b"
	clone.Metadata["k"] = "changed"

	assert.Equal(t, "original", orig.Name)
	assert.Equal(t, "x", orig.Variables[0].Name)
	assert.Equal(t, "a", orig.Tags[0])
	assert.Equal(t, "v", orig.Metadata["k"])
}

func TestHasTag(t *testing.T) {
	def := &TemplateDefinition{Tags: []string{"prod", "nlp"}}
	assert.True(t, def.HasTag("prod"))
	assert.False(t, def.HasTag("staging"))
}

func TestGranularityHierarchy(t *testing.T) {
	assert.Equal(t, Granularity(""), GranularityMinute.Finer())
	assert.Equal(t, GranularityMinute, GranularityHour.Finer())
	assert.Equal(t, GranularityHour, GranularityDay.Finer())
	assert.Equal(t, GranularityDay, GranularityWeek.Finer())
	assert.Equal(t, GranularityWeek, GranularityMonth.Finer())
}
