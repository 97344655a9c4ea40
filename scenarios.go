package cgmsim

import (
	"embed"
	"path"
	"sort"
	"strings"
)

//go:embed scenarios/*.lua
var scenarioFiles embed.FS

// Scenario returns the built-in scenario script called name.
func Scenario(name string) (string, bool) {
	content, err := scenarioFiles.ReadFile(path.Join("scenarios", name+".lua"))
	if err != nil {
		return "", false
	}
	return string(content), true
}

// Scenarios lists the built-in scenario names.
func Scenarios() []string {
	entries, err := scenarioFiles.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}
