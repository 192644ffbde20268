package ir

// Stage is the position of an op in the pipeline.
type Stage string

const (
	StagePending             Stage = "pending"
	StageAwaitingSysDeps     Stage = "awaiting_sys_deps"
	StageSysValidated        Stage = "sys_validated"
	StageAwaitingAppDeps     Stage = "awaiting_app_deps"
	StageAwaitingIntegration Stage = "awaiting_integration"
	StageIntegrated          Stage = "integrated"
)

// ValidationStatus is the verdict attached to an op once validation ends.
type ValidationStatus string

const (
	StatusValid    ValidationStatus = "valid"
	StatusRejected ValidationStatus = "rejected"
)

// OpStatus is the full pipeline status of an op.
//
//	Pending → AwaitingSysDeps(h) → SysValidated → AwaitingAppDeps(hs)
//	        → AwaitingIntegration → Integrated(Valid | Rejected)
//
// Transitions move forward only, except de-integration, which returns an
// integrated op to Pending when a dependency it relied on is rejected.
type OpStatus struct {
	Stage      Stage            `json:"stage"`
	Validation ValidationStatus `json:"validation,omitempty"`
	Missing    []Hash           `json:"missing,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// IsIntegrated reports whether the op has reached a terminal verdict.
func (s OpStatus) IsIntegrated() bool { return s.Stage == StageIntegrated }

// String renders the status as Stage or Stage(Validation).
func (s OpStatus) String() string {
	if s.Validation != "" {
		return string(s.Stage) + "(" + string(s.Validation) + ")"
	}
	return string(s.Stage)
}
