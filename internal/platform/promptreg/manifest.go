package promptreg

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type manifestMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

type manifestEntry struct {
	Version  int               `yaml:"version"`
	Messages []manifestMessage `yaml:"messages"`
	// Template is shorthand for a single system message.
	Template string `yaml:"template"`
}

type manifestFile struct {
	Prompts map[string]manifestEntry `yaml:"prompts"`
}

func loadManifest(path string) (map[string]Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt manifest: %w", err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse prompt manifest %s: %w", path, err)
	}
	out := make(map[string]Template, len(mf.Prompts))
	for name, entry := range mf.Prompts {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := Template{Name: name, Version: entry.Version}
		if len(entry.Messages) == 0 && strings.TrimSpace(entry.Template) != "" {
			t.Messages = []Message{{Role: "system", Content: entry.Template}}
		}
		for _, m := range entry.Messages {
			t.Messages = append(t.Messages, Message{Role: m.Role, Content: m.Content})
		}
		if len(t.Messages) == 0 {
			return nil, fmt.Errorf("prompt manifest entry %q has no messages", name)
		}
		out[name] = t
	}
	return out, nil
}
