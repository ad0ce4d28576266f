package core

// Reserved counterparty names used in trade records when one side of a fill
// is not a participant. Participant names may not start with '@'.
const (
	IssuerID      = "@issuer"
	MarketMakerID = "@market_maker"
)

// IsReservedName reports whether name collides with a counterparty sentinel.
func IsReservedName(name string) bool {
	return len(name) > 0 && name[0] == '@'
}
