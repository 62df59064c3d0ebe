// Package prompts renders the text sent to the model backend.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("prompts").
	Funcs(template.FuncMap{"join": strings.Join}).
	ParseFS(templateFS, "templates/*.tmpl"))

// System returns the framing sent with the first prompt of a conversation.
// With thinkTool set, usage guidance for the think tool is appended.
func System(thinkTool bool) (string, error) {
	system, err := execute("system.tmpl", nil)
	if err != nil {
		return "", err
	}
	if !thinkTool {
		return system, nil
	}
	suffix, err := execute("think.tmpl", nil)
	if err != nil {
		return "", err
	}
	return system + "\n\n" + suffix, nil
}

// Initial returns the first prompt for a design created with params.
func Initial(params types.OptimizerParameters) (string, error) {
	return execute("initial.tmpl", struct{ Parameters types.OptimizerParameters }{params})
}

// Reprompt returns the prompt for the images rendered from params.
func Reprompt(params types.OptimizerParameters, imageIDs []string, iteration int) (string, error) {
	return execute("reprompt.tmpl", struct {
		Parameters types.OptimizerParameters
		ImageIDs   []string
		Iteration  int
	}{params, imageIDs, iteration})
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
