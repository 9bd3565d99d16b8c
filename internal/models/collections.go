package models

// Collection names as stored upstream.
const (
	CollectionHospitals       = "hospitals"
	CollectionUsers           = "users"
	CollectionBabies          = "babies"
	CollectionLabourRoom      = "lrBabies"
	CollectionRegistrations   = "registrations"
	CollectionDayOfLife       = "ageDays"
	CollectionObservations    = "observations"
	CollectionKmcSessions     = "kmcSessions"
	CollectionFeedingSessions = "feedingSessions"
	CollectionStatusUpdates   = "statusUpdates"
	CollectionDischarges      = "discharges"
	CollectionFollowUps       = "followUps"
	CollectionDeaths          = "deaths"
)

// EventCollections are the collections whose documents reference a baby.
var EventCollections = []string{
	CollectionLabourRoom,
	CollectionRegistrations,
	CollectionDayOfLife,
	CollectionObservations,
	CollectionKmcSessions,
	CollectionFeedingSessions,
	CollectionStatusUpdates,
	CollectionDischarges,
	CollectionFollowUps,
	CollectionDeaths,
}

// TimeField returns the field a store filters on for time ranges, or "" when
// the collection is fetched unbounded.
func TimeField(collection string) string {
	switch collection {
	case CollectionDayOfLife:
		return "ageDayDate"
	case CollectionObservations:
		return "observationDueDate"
	case CollectionKmcSessions:
		return "kmcStart"
	case CollectionFeedingSessions:
		return "feedingStart"
	case CollectionStatusUpdates:
		return "statusUpdateDate"
	case CollectionFollowUps:
		return "followUpDueDate"
	}
	return ""
}

// OrderField returns the field used to order fetched documents.
func OrderField(collection string) string {
	switch collection {
	case CollectionBabies:
		return "birthDate"
	case CollectionLabourRoom:
		return "identifiedDate"
	case CollectionRegistrations:
		return "registrationDate"
	case CollectionDischarges:
		return "dischargeDate"
	case CollectionDeaths:
		return "deathDate"
	}
	return TimeField(collection)
}

// IsBabyScoped reports whether a collection's events feed day-of-life buckets.
func IsBabyScoped(collection string) bool {
	switch collection {
	case CollectionDayOfLife, CollectionObservations, CollectionKmcSessions,
		CollectionFeedingSessions, CollectionStatusUpdates:
		return true
	}
	return false
}
