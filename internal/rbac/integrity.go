package rbac

import "context"

// IntegrityReport counts rows that resolution silently ignores.
type IntegrityReport struct {
	DanglingBuiltin     int64 `json:"danglingBuiltin"`
	DanglingCustom      int64 `json:"danglingCustom"`
	InactiveGrants      int64 `json:"inactiveGrants"`
	InactiveAssignments int64 `json:"inactiveAssignments"`
}

// Clean reports whether nothing was found.
func (r IntegrityReport) Clean() bool {
	return r.DanglingBuiltin == 0 && r.DanglingCustom == 0 && r.InactiveGrants == 0 && r.InactiveAssignments == 0
}

// IntegrityScanner produces an IntegrityReport.
type IntegrityScanner interface {
	ScanIntegrity(ctx context.Context) (IntegrityReport, error)
}
