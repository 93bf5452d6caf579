package harness

import (
	"fmt"
	"strings"
	"time"
)

// CheckResult is the outcome of evaluating one turn's expectations against
// the replies it produced. Semantic criteria are judged separately by a
// Grader and merged in by the runner.
type CheckResult struct {
	Passed   bool     `yaml:"passed" json:"passed"`
	Failures []string `yaml:"failures,omitempty" json:"failures,omitempty"`
}

func (r *CheckResult) fail(format string, args ...any) {
	r.Passed = false
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// CheckTurn evaluates a turn's declarative expectations: reply count,
// pairwise pattern matches, keywords and latency budget. Replies must
// already be in timestamp order, as returned by Connector.WaitForReplies.
func CheckTurn(turn *Turn, replies []Reply) CheckResult {
	res := CheckResult{Passed: true}

	if want := turn.expectedCount(); len(replies) < want {
		res.fail("expected %d replies, got %d", want, len(replies))
	}

	for i, pat := range turn.Expected {
		if i >= len(replies) {
			res.fail("reply %d missing, wanted match for %s", i, pat)
			continue
		}
		if !pat.Matches(replies[i].Activity) {
			res.fail("reply %d %q does not match %s", i, replies[i].Text(), pat)
		}
	}

	if len(turn.Keywords) > 0 && !anyKeyword(turn.Keywords, replies) {
		res.fail("no reply contains any of %q", turn.Keywords)
	}

	if budget := turn.LatencyBudget.Duration(); budget > 0 {
		for i := range replies {
			if lat := replies[i].Latency; lat > budget {
				res.fail("reply %d latency %s exceeds budget %s", i, lat.Round(time.Millisecond), budget)
			}
		}
	}

	return res
}

// anyKeyword reports whether any keyword appears, case-insensitively, in the
// text or speak field of any reply.
func anyKeyword(keywords []string, replies []Reply) bool {
	for i := range replies {
		text := strings.ToLower(replies[i].Activity.Text + " " + replies[i].Activity.Speak)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}
