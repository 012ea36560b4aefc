package types

type RequestKind string

type RequestStatus string

type EntryType string

type AdminRole string

const (
	RequestKindDeposit    RequestKind = "deposit"
	RequestKindWithdrawal RequestKind = "withdrawal"
)

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

// Terminal reports whether no further transition is permitted out of s.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

const (
	AdminRoleSuperAdmin AdminRole = "super_admin"
	AdminRoleAdmin      AdminRole = "admin"
	AdminRoleModerator  AdminRole = "moderator"
)
