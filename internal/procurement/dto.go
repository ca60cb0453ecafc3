package procurement

// ApproveLevelRequest carries an explicit approver; the actor header is used
// when omitted.
type ApproveLevelRequest struct {
	ApproverID int64 `json:"approver_id" validate:"omitempty,gt=0"`
}

// RejectLevelRequest carries the rejection reason.
type RejectLevelRequest struct {
	ApproverID int64  `json:"approver_id" validate:"omitempty,gt=0"`
	Comments   string `json:"comments" validate:"required,max=500"`
}

// ResolveMatchRequest forces a match exception to MATCHED.
type ResolveMatchRequest struct {
	ResolverID int64  `json:"resolver_id" validate:"omitempty,gt=0"`
	Notes      string `json:"notes" validate:"required,max=1000"`
}
