package domain

// Verdict is the outcome of an authorization decision.
type Verdict int

const (
	VerdictAuthorized Verdict = iota
	VerdictNotLinked
	VerdictBanned
	VerdictMaintenance
	VerdictNoRole
)

func (v Verdict) String() string {
	switch v {
	case VerdictAuthorized:
		return "authorized"
	case VerdictNotLinked:
		return "not_linked"
	case VerdictBanned:
		return "banned"
	case VerdictMaintenance:
		return "maintenance"
	case VerdictNoRole:
		return "no_role"
	default:
		return "unknown"
	}
}

// Decision is a verdict for one game identity. AuthCode is set only for
// VerdictNotLinked.
type Decision struct {
	GameID   string
	ChatID   string
	Verdict  Verdict
	ViaAlt   bool
	AuthCode string
}

// Authorized reports whether the player may join.
func (d Decision) Authorized() bool {
	return d.Verdict == VerdictAuthorized
}
