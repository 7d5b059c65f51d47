package types

// Lookup is the result of finding databases by name. It is one of
// NoMatch, OneMatch or ManyMatches; switch on the concrete type.
type Lookup interface {
	isLookup()
}

// NoMatch means no non-terminated database carries the name
type NoMatch struct{}

// OneMatch holds the single non-terminated database carrying the name
type OneMatch struct {
	Database Database
}

// ManyMatches holds every non-terminated database carrying the name
type ManyMatches struct {
	Databases []Database
}

func (NoMatch) isLookup()     {}
func (OneMatch) isLookup()    {}
func (ManyMatches) isLookup() {}

// LookupOf wraps a list of matches in the right variant
func LookupOf(matches []Database) Lookup {
	switch len(matches) {
	case 0:
		return NoMatch{}
	case 1:
		return OneMatch{Database: matches[0]}
	default:
		return ManyMatches{Databases: matches}
	}
}

// IDs returns the ids of all matches
func (m ManyMatches) IDs() []string {
	ids := make([]string, 0, len(m.Databases))
	for _, db := range m.Databases {
		ids = append(ids, db.ID)
	}
	return ids
}
