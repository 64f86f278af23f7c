package rules

import (
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"expense-approval/internal/models"
)

// Authority is the single place where group priorities are compared.
// Every rule set (expense codes, organizations, request templates) goes
// through it, so "higher authority subsumes lower" cannot drift between
// domains.
type Authority struct {
	logger *logrus.Entry
}

// NewAuthority creates the shared authority comparison service.
func NewAuthority(logger *logrus.Logger) *Authority {
	if logger == nil {
		logger = logrus.New()
	}
	return &Authority{logger: logger.WithField("component", "authority")}
}

// MaxPriority returns a user's effective authority: the maximum
// priority over the given active group memberships, 0 when none.
func (a *Authority) MaxPriority(groups []models.ApproverGroup) int {
	max := 0
	for _, g := range groups {
		if g.IsActive && g.Priority > max {
			max = g.Priority
		}
	}
	return max
}

// Subsumes reports whether an existing authority level satisfies a
// required group priority.
func (a *Authority) Subsumes(havePriority, requiredPriority int) bool {
	return havePriority >= requiredPriority
}

// RequiredGroups evaluates an ordered rule set against a context and
// returns the distinct approver groups still required, sorted by
// priority ascending. Rules are skipped when:
//   - the rule or its group is inactive,
//   - a submitter-group scope does not include the submitter,
//   - the condition evaluates false (malformed conditions are logged
//     and fail closed), or
//   - the acting user's own maximum priority already meets or exceeds
//     the group's priority; only groups that strictly outrank the
//     user remain required.
func (a *Authority) RequiredGroups(ruleSet []models.ApprovalRule, ctx Context, submitterGroups []models.ApproverGroup) []models.ApproverGroup {
	actingMax := a.MaxPriority(submitterGroups)

	byID := make(map[uuid.UUID]models.ApproverGroup)
	for _, rule := range ruleSet {
		if !rule.IsActive || rule.ApproverGroup == nil || !rule.ApproverGroup.IsActive {
			continue
		}
		if rule.SubmitterGroup != nil && !rule.SubmitterGroup.HasMember(ctx.SubmitterID) {
			continue
		}
		if !a.conditionHolds(rule, ctx) {
			continue
		}
		if rule.ApproverGroup.Priority <= actingMax {
			continue
		}
		byID[rule.ApproverGroup.ID] = *rule.ApproverGroup
	}

	out := make([]models.ApproverGroup, 0, len(byID))
	for _, g := range byID {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// LineSatisfies reports whether an approval line covers a required
// group, honoring hierarchy: the line's best approver priority must
// meet or exceed the group's priority.
func (a *Authority) LineSatisfies(lineMaxPriority int, group models.ApproverGroup) bool {
	return a.Subsumes(lineMaxPriority, group.Priority)
}

// conditionHolds compiles and evaluates the rule's condition. Any
// parse or evaluation failure is logged and treated as "rule does not
// match": the evaluator fails closed, never open.
func (a *Authority) conditionHolds(rule models.ApprovalRule, ctx Context) bool {
	cond, err := Compile(rule.Condition)
	if err != nil {
		a.logger.WithError(err).WithField("rule_id", rule.ID).Warn("malformed rule condition")
		return false
	}
	ok, err := cond.Eval(ctx)
	if err != nil {
		a.logger.WithError(err).WithField("rule_id", rule.ID).Warn("rule condition evaluation failed")
		return false
	}
	return ok
}
