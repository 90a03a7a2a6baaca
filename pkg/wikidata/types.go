package wikidata

// Property codes read from film items.
const (
	PropReleaseDate = "P577"
	PropDuration    = "P2047"
	PropDirector    = "P57"
	PropCastMember  = "P161"
	PropVoiceActor  = "P725"
	PropCountry     = "P495"
)

// MaxEntitiesPerRequest is the wbgetentities limit on ids per call.
const MaxEntitiesPerRequest = 50

// Entity is one decoded wbgetentities record.
type Entity struct {
	ID           string
	Labels       map[string]Label // keyed by language code
	Descriptions map[string]string
	Claims       map[string][]Claim // keyed by property code
}

// Label is a language-tagged label. Language differs from the map key when
// the API applied a language fallback.
type Label struct {
	Language string
	Value    string
}

// Claim is the main value of one statement: ClaimAmount, ClaimTime or ClaimEntity.
// A nil Claim marks a statement without a usable value (novalue, somevalue or an
// unsupported datatype); it still counts against per-property limits.
type Claim interface {
	isClaim()
}

// ClaimAmount is a quantity value, e.g. "+136".
type ClaimAmount struct {
	Amount string
	Unit   string
}

// ClaimTime is a point in time, e.g. "+1999-03-31T00:00:00Z".
type ClaimTime struct {
	Time      string
	Precision int
}

// ClaimEntity references another item whose label needs a second lookup.
type ClaimEntity struct {
	ID string
}

func (ClaimAmount) isClaim() {}
func (ClaimTime) isClaim()   {}
func (ClaimEntity) isClaim() {}
