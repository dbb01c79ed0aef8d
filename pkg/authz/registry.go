package authz

// Role slugs recognized in policy files. Callers present their role in
// the X-Requester-Role header; identity itself is resolved upstream.
const (
	RoleLedgerWriter     = "ledger-writer"
	RoleLedgerReader     = "ledger-reader"
	RoleEnforcementAgent = "enforcement-agent"
	RoleOperator         = "operator"
	RoleAnonymous        = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionOps   = "ops"
)

const (
	ObjectLedgerCorrections  = "ledger.corrections"
	ObjectLedgerFacts        = "ledger.facts"
	ObjectLedgerHistory      = "ledger.history"
	ObjectEnforcementStatus  = "enforcement.status"
	ObjectEnforcementReports = "enforcement.reports"
	ObjectOpsMetrics         = "ops.metrics"
)
