package consensus

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quorumcore/consensus-core/internal/core"
)

// MajorityCluster implements §4.7's threshold rule: round 1 requires
// unanimity (count == nTotal); rounds >= 2 require a strict majority
// (count*2 > nTotal, so an exact 50% split in two clusters is explicitly
// no majority).
func MajorityCluster(clusters []core.Cluster, nTotal int, round int) (core.Cluster, bool) {
	for _, c := range clusters {
		if round <= 1 {
			if c.Count() == nTotal {
				return c, true
			}
			continue
		}
		if c.Count()*2 > nTotal {
			return c, true
		}
	}
	return core.Cluster{}, false
}

const summaryMaxLen = 100

// actionSummary renders a compact, brackets-delimited summary of an action
// (§4.7), truncated to 100 characters with an ellipsis.
func actionSummary(a core.Action) string {
	var s string
	switch {
	case a.IsBatch():
		types := make([]string, len(a.SubActions))
		for i, sa := range a.SubActions {
			types[i] = string(sa.Type)
		}
		if a.Type == core.ActionBatchAsync {
			sort.Strings(types)
		}
		s = fmt.Sprintf("[%s: [%s]]", a.Type, strings.Join(types, ", "))
	default:
		schema, ok := Lookup(a.Type)
		if ok && len(schema.RequiredParams) > 0 {
			if v, present := a.Params[schema.RequiredParams[0]]; present {
				s = fmt.Sprintf("[%s: %s]", a.Type, paramText(v))
			}
		}
		if s == "" {
			s = fmt.Sprintf("[%s]", a.Type)
		}
	}
	return truncateSummary(s)
}

// indentBlock indents every line of a rendered YAML block by two spaces,
// so a numbered proposal list stays visually scannable.
func indentBlock(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func truncateSummary(s string) string {
	if len(s) <= summaryMaxLen {
		return s
	}
	return s[:summaryMaxLen] + "…"
}

// actionToRepr renders an action as a plain map for the refinement
// prompt's proposal listing, with no model attribution (§4.7). Rendered
// as a YAML block rather than JSON: this module emits the same
// frontmatter-flavored YAML the teacher's moderator parses scores out of,
// just in the opposite direction.
func actionToRepr(a core.Action) map[string]any {
	out := map[string]any{"action": string(a.Type)}
	if a.IsBatch() {
		subs := make([]map[string]any, len(a.SubActions))
		for i, sa := range a.SubActions {
			subs[i] = actionToRepr(sa)
		}
		out["actions"] = subs
	} else if len(a.Params) > 0 {
		out["params"] = a.Params
	}
	if a.Reasoning != "" {
		out["reasoning"] = a.Reasoning
	}
	if !core.WaitIsAbsent(a.Wait) {
		out["wait"] = a.Wait
	}
	return out
}

// BuildRefinementPrompt constructs the §4.7 refinement prompt: the task
// goal, un-attributed YAML-rendered proposals from the preceding round, the
// last two rounds of (action_summary, reasoning) tuples capped at 3 entries
// per round, framed as independent-context deliberation (never "voting"),
// with no percentages or counts, and a final-round marker when round >=
// ctx.MaxRounds.
func BuildRefinementPrompt(proposals []core.Action, round int, ctx core.RoundContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n", ctx.TaskPrompt)
	b.WriteString("The following proposals were produced independently by multiple models, each deliberating with its own separate context. This is not a vote; weigh each proposal on its merits.\n\n")

	b.WriteString("Proposals from the previous round:\n")
	for i, p := range proposals {
		data, err := yaml.Marshal(actionToRepr(p))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%d.\n%s\n", i+1, indentBlock(string(data)))
	}
	b.WriteString("\n")

	for _, rr := range ctx.RecentRounds {
		fmt.Fprintf(&b, "Round %d:\n", rr.Round)
		limit := len(rr.Records)
		if limit > 3 {
			limit = 3
		}
		for _, rec := range rr.Records[:limit] {
			summary := actionSummary(core.Action{Type: rec.Action, Params: rec.Params})
			fmt.Fprintf(&b, "- %s | %s\n", summary, rec.Reasoning)
		}
		b.WriteString("\n")
	}

	if round >= ctx.MaxRounds {
		b.WriteString("This is the final round: give your best independent decision.\n")
	}

	return b.String()
}
