// Package prompt renders the planner's LLM context. Build is a pure
// function of its inputs: given identical inputs the output is
// byte-identical, so a replayed log produces the same prompt the live run
// saw.
package prompt

import "strings"

type Section struct {
	Title string
	Body  string
}

// Builder assembles named sections in the order they were added, skipping
// blanks. Ordering is fixed by the caller, never by wall clock or map
// iteration, to keep output deterministic.
type Builder struct {
	sections []Section
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Add(title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	b.sections = append(b.sections, Section{Title: title, Body: body})
}

func (b *Builder) String() string {
	var sb strings.Builder
	for i, section := range b.sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if section.Title != "" {
			sb.WriteString("## ")
			sb.WriteString(section.Title)
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(section.Body))
	}
	return sb.String()
}
