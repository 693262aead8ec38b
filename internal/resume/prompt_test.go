package resume

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSystemInstructionFull(t *testing.T) {
	out := BuildSystemInstruction(&ResumeContext{
		Summary: "User: hi\n\nAI: hello",
		Title:   "Greetings",
		Note:    "keep it short",
	})

	// All sections present, in template order.
	sections := []string{
		"## Previous content",
		"## Theme",
		"## User notes",
		"## Instructions",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", s)
		assert.Greater(t, idx, last, "section %q out of order", s)
		last = idx
	}

	assert.Contains(t, out, "User: hi\n\nAI: hello")
	assert.Contains(t, out, "Greetings")
	assert.Contains(t, out, "keep it short")
}

func TestBuildSystemInstructionOmitsEmptySections(t *testing.T) {
	out := BuildSystemInstruction(&ResumeContext{Summary: "User: hi"})

	assert.NotContains(t, out, "## Theme")
	assert.NotContains(t, out, "## User notes")
	assert.Contains(t, out, "## Previous content")
	assert.Contains(t, out, "## Instructions")
}

func TestBuildSystemInstructionStable(t *testing.T) {
	rc := &ResumeContext{Summary: "User: hi", Title: "T"}
	assert.Equal(t, BuildSystemInstruction(rc), BuildSystemInstruction(rc))
}
