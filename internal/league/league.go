// Package league loads the league rosters every other component derives
// fixtures and matches from, and owns the team-name normalisation used inside
// match identifiers.
package league

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// League is one roster. Team order in the file is irrelevant: fixture
// generation shuffles it with a seed.
type League struct {
	Code  string   `yaml:"code"`
	Name  string   `yaml:"name"`
	Teams []string `yaml:"teams"`
}

// File is the on-disk shape of LEAGUES_FILE.
type File struct {
	Leagues []League `yaml:"leagues"`
}

// LoadFile reads and validates a YAML roster file.
func LoadFile(path string) ([]League, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read leagues file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML roster document.
func Parse(data []byte) ([]League, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse leagues file: %w", err)
	}
	if len(f.Leagues) == 0 {
		return nil, fmt.Errorf("leagues file defines no leagues")
	}

	seen := make(map[string]bool, len(f.Leagues))
	for i := range f.Leagues {
		l := &f.Leagues[i]
		l.Code = strings.ToLower(strings.TrimSpace(l.Code))
		if l.Code == "" || Slug(l.Code) != l.Code {
			return nil, fmt.Errorf("league %d: code %q must be a non-empty slug", i, l.Code)
		}
		if seen[l.Code] {
			return nil, fmt.Errorf("duplicate league code %q", l.Code)
		}
		seen[l.Code] = true
		if l.Name == "" {
			l.Name = l.Code
		}

		slugs := make(map[string]string, len(l.Teams))
		for _, team := range l.Teams {
			s := Slug(team)
			if s == "" {
				return nil, fmt.Errorf("league %s: team %q has an empty slug", l.Code, team)
			}
			if prev, ok := slugs[s]; ok {
				return nil, fmt.Errorf("league %s: teams %q and %q share slug %q", l.Code, prev, team, s)
			}
			slugs[s] = team
		}
	}

	sort.Slice(f.Leagues, func(i, j int) bool { return f.Leagues[i].Code < f.Leagues[j].Code })
	return f.Leagues, nil
}

// ByCode indexes leagues by code.
func ByCode(leagues []League) map[string]League {
	m := make(map[string]League, len(leagues))
	for _, l := range leagues {
		m[l.Code] = l
	}
	return m
}

// Slug lower-cases name, turns every run of whitespace or punctuation into a
// single hyphen and drops everything that is not an ASCII letter or digit.
// Apostrophes join rather than split ("Newell's" -> "newells").
//
// Match identifiers embed slugs, so any change here silently forks every id
// ever issued.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false

	for _, r := range strings.ToLower(name) {
		switch {
		case r == '\'' || r == '’':
			continue
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			pendingSep = true
		}
	}
	return b.String()
}
