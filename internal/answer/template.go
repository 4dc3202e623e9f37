// Package answer turns a question and its retrieved context into a prompt
// and asks the chat model for an answer. Prompts come from a versioned
// template so every response can be traced back to the wording that
// produced it.
package answer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is a versioned prompt. System and User are eino FString
// templates: {context} and {question} are substituted, and literal braces
// must be doubled.
type Template struct {
	// Version identifies the wording; it is echoed in every response.
	Version string `yaml:"version"`
	// System is the system message. It must reference {context}.
	System string `yaml:"system"`
	// User is the user message. It must reference {question}.
	User string `yaml:"user"`
}

// DefaultTemplate is the built-in prompt.
var DefaultTemplate = Template{
	Version: "v1",
	System: `You are docqa, a friendly assistant that answers questions about documents the user has uploaded.
Reply in the language of the question and keep answers short and to the point.

Rules:
1. If the question can be answered from the document context below, answer it accurately from that context.
2. If the context does not contain the answer, you may answer general knowledge questions from your own training, and say that the document does not cover it.
3. If the question is unrelated to the document, answer briefly and steer the user back to the document.
4. Refuse questions that are unethical, harmful, malicious or dangerous with: "Sorry, I can't answer that question."

Context from the document:
{context}`,
	User: "{question}",
}

// LoadTemplate reads a Template from a YAML file. Missing fields fall back to
// DefaultTemplate so a file may override only the system prompt.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("answer: read template %s: %w", path, err)
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("answer: parse template %s: %w", path, err)
	}
	if t.Version == "" {
		return Template{}, fmt.Errorf("answer: template %s has no version", path)
	}
	if t.System == "" {
		t.System = DefaultTemplate.System
	}
	if t.User == "" {
		t.User = DefaultTemplate.User
	}
	if err := t.Validate(); err != nil {
		return Template{}, fmt.Errorf("answer: template %s: %w", path, err)
	}
	return t, nil
}

// Validate checks that both placeholders are present.
func (t Template) Validate() error {
	if !strings.Contains(t.System, "{context}") {
		return fmt.Errorf("system prompt must contain {context}")
	}
	if !strings.Contains(t.User, "{question}") {
		return fmt.Errorf("user prompt must contain {question}")
	}
	return nil
}
