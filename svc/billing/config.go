package billing

// Config tunes the billing service composition. HasDurableQueue selects
// between enqueueing durable jobs and running handlers synchronously
// inside the trigger when no queue backend is deployed.
type Config struct {
	HasDurableQueue bool `env:"BILLING_DURABLE_QUEUE" envDefault:"true"`

	// ScanBatchSize caps how many due items one trigger run picks up.
	ScanBatchSize int `env:"BILLING_SCAN_BATCH_SIZE" envDefault:"100"`

	RenewalsSchedule string `env:"BILLING_RENEWALS_SCHEDULE" envDefault:"0 2 * * *"`
	RetriesSchedule  string `env:"BILLING_RETRIES_SCHEDULE" envDefault:"@hourly"`
	DunningSchedule  string `env:"BILLING_DUNNING_SCHEDULE" envDefault:"0 */6 * * *"`
	TrialsSchedule   string `env:"BILLING_TRIALS_SCHEDULE" envDefault:"@hourly"`
	DrainSchedule    string `env:"BILLING_DRAIN_SCHEDULE" envDefault:"*/30 * * * *"`

	// DefaultDunningStrategy is used when a campaign start does not name
	// a strategy.
	DefaultDunningStrategy string `env:"BILLING_DUNNING_STRATEGY" envDefault:"default"`
}
