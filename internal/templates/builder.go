package templates

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// BasicTemplate describes the inputs for a minimal HTTP word-matcher
// template, enough to smoke-test a target without writing YAML by hand.
type BasicTemplate struct {
	ID           string
	Name         string
	Severity     string
	Method       string
	Path         string
	MatcherWords []string
}

type basicInfo struct {
	Name     string `yaml:"name"`
	Author   string `yaml:"author"`
	Severity string `yaml:"severity"`
	Tags     string `yaml:"tags"`
}

type basicMatcher struct {
	Type  string   `yaml:"type"`
	Words []string `yaml:"words"`
}

type basicRequest struct {
	Method   string         `yaml:"method"`
	Path     []string       `yaml:"path"`
	Matchers []basicMatcher `yaml:"matchers"`
}

type basicDoc struct {
	ID   string         `yaml:"id"`
	Info basicInfo      `yaml:"info"`
	HTTP []basicRequest `yaml:"http"`
}

// BuildBasic renders a minimal nuclei HTTP template as YAML.
func BuildBasic(t BasicTemplate) (string, error) {
	if t.ID == "" {
		return "", fmt.Errorf("template id is required")
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Severity == "" {
		t.Severity = "info"
	}
	if t.Method == "" {
		t.Method = "GET"
	}
	if t.Path == "" {
		t.Path = "/"
	}
	words := t.MatcherWords
	if len(words) == 0 {
		words = []string{"success"}
	}

	doc := basicDoc{
		ID: t.ID,
		Info: basicInfo{
			Name:     t.Name,
			Author:   "waverly",
			Severity: t.Severity,
			Tags:     "basic",
		},
		HTTP: []basicRequest{{
			Method: strings.ToUpper(t.Method),
			Path:   []string{t.Path},
			Matchers: []basicMatcher{{
				Type:  "word",
				Words: words,
			}},
		}},
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return string(data), nil
}
