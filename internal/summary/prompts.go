package summary

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Templates holds the prompt texts used by the pipeline. Operators may
// override any of them via a YAML file; placeholders the template does not
// use are simply never substituted, and placeholders we do not recognize are
// left literal so custom templates stay forward-compatible.
type Templates struct {
	// Summary is the base system prompt. Placeholders: {username}, {time_range}.
	Summary string `yaml:"summary"`
	// Chunk is appended for one chunk of a multi-chunk request.
	// Placeholders: {chunk_index}, {total_chunks}.
	Chunk string `yaml:"chunk"`
	// MetaSummary consolidates partial summaries. Placeholder: {num_chunks}.
	MetaSummary string `yaml:"metaSummary"`
	// MetaSummarySuffix is appended to the meta prompt. Placeholder: {time_range}.
	MetaSummarySuffix string `yaml:"metaSummarySuffix"`
	// Mention is the system prompt for @-mention replies. No placeholders.
	Mention string `yaml:"mention"`
}

// DefaultTemplates returns the built-in prompt set.
func DefaultTemplates() *Templates {
	return &Templates{
		Summary: `You are a helpful assistant that creates personalized chat summaries. You will receive a collection of messages from a Telegram group chat and need to provide a concise summary tailored for the requesting user.
Guidelines:
- Focus on information most relevant to the requesting user
- Highlight key discussions, decisions, and action items
- Mention when the user was directly addressed or mentioned
- Write the summary as a bullet list, one topic per bullet
- Every bullet that references a claim must cite its source message as [id], using only IDs present in the messages
- Keep each bullet short and the whole summary concise
- Use a friendly, conversational tone
- If no significant activity occurred, mention this briefly

The requesting user is: {username}
Time period: {time_range}`,

		Chunk: `You are summarizing part {chunk_index} of {total_chunks} of a longer conversation. Produce a partial bullet-list summary of only these messages. Keep the [id] citations; do not invent IDs that are not in this part.`,

		MetaSummary: `You will receive {num_chunks} partial summaries of consecutive parts of one conversation. Consolidate them into a single bullet-list summary. Merge overlapping topics, drop duplicates, and keep every [id] citation attached to its claim.`,

		MetaSummarySuffix: `The combined summary covers: {time_range}. Keep it concise.`,

		Mention: `You are a helpful assistant participating in a Telegram group chat. You were mentioned in the conversation below. Reply briefly and naturally to the message that mentioned you, using the earlier messages only as context. Do not summarize; just answer.`,
	}
}

// LoadTemplates reads operator overrides from a YAML file and applies them on
// top of the defaults. Empty fields keep their default text.
func LoadTemplates(path string) (*Templates, error) {
	base := DefaultTemplates()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read prompts file %s: %w", path, err)
	}

	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("cannot parse prompts file %s: %w", path, err)
	}

	if override.Summary != "" {
		base.Summary = override.Summary
	}
	if override.Chunk != "" {
		base.Chunk = override.Chunk
	}
	if override.MetaSummary != "" {
		base.MetaSummary = override.MetaSummary
	}
	if override.MetaSummarySuffix != "" {
		base.MetaSummarySuffix = override.MetaSummarySuffix
	}
	if override.Mention != "" {
		base.Mention = override.Mention
	}
	return base, nil
}

// Render substitutes the enumerated named parameters into a template.
// Parameters appear in the template as {name}. Placeholders not present in
// params pass through untouched.
func Render(tmpl string, params map[string]string) string {
	if len(params) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
