package dunning

import "github.com/dmitrymomot/billingkit/pkg/billing"

// Step is one scheduled action in a campaign, offset in days from the
// moment the subscription went past due.
type Step struct {
	DayOffset int
	Action    billing.DunningAction
	// Template names the email template for email_reminder steps.
	Template string
	// GraceDays is the grace window length for grace_period steps.
	GraceDays int
}

// Strategy is an ordered list of steps.
type Strategy struct {
	Name  string
	Steps []Step
}

// Built-in strategy names.
const (
	StrategyDefault    = "default"
	StrategyGentle     = "gentle"
	StrategyAggressive = "aggressive"
)

// strategies holds the built-in campaign schedules. Offsets are days
// after pastDueDate.
var strategies = map[string]Strategy{
	StrategyDefault: {
		Name: StrategyDefault,
		Steps: []Step{
			{DayOffset: 1, Action: billing.DunningEmailReminder, Template: "payment_failed_first"},
			{DayOffset: 3, Action: billing.DunningEmailReminder, Template: "payment_failed_second"},
			{DayOffset: 7, Action: billing.DunningEmailReminder, Template: "payment_failed_final"},
			{DayOffset: 14, Action: billing.DunningGracePeriod, GraceDays: 7},
			{DayOffset: 17, Action: billing.DunningSuspension},
			{DayOffset: 30, Action: billing.DunningCancellation},
		},
	},
	StrategyGentle: {
		Name: StrategyGentle,
		Steps: []Step{
			{DayOffset: 3, Action: billing.DunningEmailReminder, Template: "payment_failed_first"},
			{DayOffset: 10, Action: billing.DunningEmailReminder, Template: "payment_failed_second"},
			{DayOffset: 21, Action: billing.DunningEmailReminder, Template: "payment_failed_final"},
			{DayOffset: 30, Action: billing.DunningGracePeriod, GraceDays: 14},
			{DayOffset: 45, Action: billing.DunningSuspension},
			{DayOffset: 60, Action: billing.DunningCancellation},
		},
	},
	StrategyAggressive: {
		Name: StrategyAggressive,
		Steps: []Step{
			{DayOffset: 1, Action: billing.DunningEmailReminder, Template: "payment_failed_first"},
			{DayOffset: 3, Action: billing.DunningEmailReminder, Template: "payment_failed_final"},
			{DayOffset: 5, Action: billing.DunningSuspension},
			{DayOffset: 10, Action: billing.DunningCancellation},
		},
	},
}

// StrategyByName resolves a built-in strategy, falling back to the
// default for unknown names.
func StrategyByName(name string) Strategy {
	if s, ok := strategies[name]; ok {
		return s
	}
	return strategies[StrategyDefault]
}
