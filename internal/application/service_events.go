package application

const (
	// eventTypeSchoolRegistered is emitted with the pending founder and school rows.
	eventTypeSchoolRegistered = "school.registered"
	// eventTypeSchoolActivated is emitted when founder verification activates a school.
	eventTypeSchoolActivated = "school.activated"
	// eventTypeSessionsRevoked is emitted when a user signs out of every device.
	eventTypeSessionsRevoked = "user.sessions_revoked"
	// eventTypePasswordChanged is emitted with every credential change.
	eventTypePasswordChanged = "user.password_changed"
)

// EventTypes lists every event type the service writes to the outbox.
func EventTypes() []string {
	return []string{
		eventTypeSchoolRegistered,
		eventTypeSchoolActivated,
		eventTypeSessionsRevoked,
		eventTypePasswordChanged,
	}
}
