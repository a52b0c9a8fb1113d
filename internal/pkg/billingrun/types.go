package billingrun

// RunState describes what the processor is doing right now. A run moves
// Idle -> Scanning -> Processing -> Idle; a new run cannot start while the
// state is not Idle.
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateScanning   RunState = "scanning"
	RunStateProcessing RunState = "processing"
)

// Summary aggregates one sweep. Per-subscription failures are counted here
// instead of aborting the batch.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Lease names used to keep overlapping scheduler triggers apart.
const (
	leaseRecurringBilling = "billing:recurring"
	leaseRenewals         = "billing:renewals"
	leaseExpirations      = "billing:expirations"
)
