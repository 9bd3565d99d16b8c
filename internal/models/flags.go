package models

// Flag names one data-quality condition.
type Flag string

const (
	FlagMissingRequiredField  Flag = "missing_required_field"
	FlagOrphanedBabyRef       Flag = "orphaned_baby_ref"
	FlagOrphanedHospitalRef   Flag = "orphaned_hospital_ref"
	FlagOrphanedNurseRef      Flag = "orphaned_nurse_ref"
	FlagDenormalizationDrift  Flag = "denormalization_drift"
	FlagPreBirthEvent         Flag = "pre_birth_event"
	FlagMissingBirthDate      Flag = "missing_birth_date"
	FlagDuplicateRecord       Flag = "duplicate_record"
	FlagDayOfLifeMismatch     Flag = "day_of_life_mismatch"
	FlagDayOfLifeInconsistent Flag = "day_of_life_inconsistent"
	FlagSessionOver24h        Flag = "session_over_24h"
	FlagLifecycleConflict     Flag = "lifecycle_conflict"
	FlagCodedOtherMismatch    Flag = "coded_other_mismatch"
	FlagUnregisteredDeath     Flag = "unregistered_death"
	FlagCompletionMismatch    Flag = "completion_mismatch"
)

// AllFlags lists every flag in report order.
var AllFlags = []Flag{
	FlagMissingRequiredField,
	FlagOrphanedBabyRef,
	FlagOrphanedHospitalRef,
	FlagOrphanedNurseRef,
	FlagDenormalizationDrift,
	FlagPreBirthEvent,
	FlagMissingBirthDate,
	FlagDuplicateRecord,
	FlagDayOfLifeMismatch,
	FlagDayOfLifeInconsistent,
	FlagSessionOver24h,
	FlagLifecycleConflict,
	FlagCodedOtherMismatch,
	FlagUnregisteredDeath,
	FlagCompletionMismatch,
}

// Issue is one flagged record, surfaced for operator review.
type Issue struct {
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	HospitalID string `json:"hospital_id,omitempty"`
	BabyID     string `json:"baby_id,omitempty"`
	Flag       Flag   `json:"flag"`
	Detail     string `json:"detail,omitempty"`
	// Excluded is true when the record was dropped from every indicator
	// that would have consumed it.
	Excluded bool `json:"excluded"`
}
