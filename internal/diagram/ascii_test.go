package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestRenderASCII(t *testing.T) {
	model, err := Build(formToSlack())
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "=== Form digest ===")
	assert.Contains(t, output, "┌")
	assert.Contains(t, output, "┘")
	assert.Contains(t, output, "1. Form submitted")
	assert.Contains(t, output, "GOOGLE_FORM_TRIGGER")
	assert.Equal(t, 2, strings.Count(output, "▼"))

	// slack and wait share the last level, so they sit on one line.
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "3. Post") {
			assert.Contains(t, line, "4. DELAY")
		}
	}
}

func TestRenderASCIIWithStatus(t *testing.T) {
	model, err := Build(formToSlack())
	require.NoError(t, err)
	model.ApplyRun(schema.RunStatusFailed, "slack")

	output := RenderASCII(model)
	assert.Equal(t, 2, strings.Count(output, "[OK]"))
	assert.Equal(t, 1, strings.Count(output, "[FAIL]"))
}

func TestRenderASCIIBoxWidthCountsRunes(t *testing.T) {
	box := makeBox(&Node{Order: 1, Label: "Résumé", Type: schema.NodeTypeSlack})
	for _, line := range box.lines {
		assert.Equal(t, box.width, len([]rune(line)))
	}
}
