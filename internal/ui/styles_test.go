package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStyles_RenderText(t *testing.T) {
	styles := DefaultStyles()

	for name, style := range map[string]interface{ Render(...string) string }{
		"header":   styles.Header,
		"success":  styles.Success,
		"warning":  styles.Warning,
		"error":    styles.Error,
		"dim":      styles.Dim,
		"stage":    styles.Stage,
		"active":   styles.Active,
		"progress": styles.Progress,
		"label":    styles.Label,
	} {
		assert.Contains(t, style.Render("text"), "text", "style %s", name)
	}
}

func TestNoColorStyles_RenderPlain(t *testing.T) {
	styles := NoColorStyles()

	assert.Equal(t, "done", styles.Success.Render("done"))
	assert.Equal(t, "oops", styles.Error.Render("oops"))
	assert.Equal(t, "Ingesting", styles.Header.Render("Ingesting"))
}

func TestNoColorStyles_PanelHasNoBorder(t *testing.T) {
	plain := NoColorStyles().Panel.Render("body")
	assert.Equal(t, "body", plain)

	boxed := DefaultStyles().Panel.Render("body")
	assert.Contains(t, boxed, "body")
	assert.True(t, strings.Count(boxed, "\n") >= 2, "bordered panel should span multiple lines")
}

func TestGetStyles_HonorsNoColor(t *testing.T) {
	assert.Equal(t, "test", GetStyles(true).Success.Render("test"))
	assert.Contains(t, GetStyles(false).Success.Render("test"), "test")
}

func TestStageIndicators_Render(t *testing.T) {
	styles := DefaultStyles()

	assert.Contains(t, styles.Active.Render("●"), "●")
	assert.Contains(t, styles.Dim.Render("○"), "○")
}
