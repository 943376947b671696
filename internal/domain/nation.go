package domain

import "time"

// AllianceRef is the nested alliance reference returned inside nation queries.
type AllianceRef struct {
	ID   int    `json:"id,string"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// City is a single city snapshot with the improvement counts the audit and
// warchest formulas read.
type City struct {
	ID               int     `json:"id,string"`
	Name             string  `json:"name"`
	Infrastructure   float64 `json:"infrastructure"`
	Land             float64 `json:"land"`
	Barracks         int     `json:"barracks"`
	Factory          int     `json:"factory"`
	Hangar           int     `json:"hangar"`
	Drydock          int     `json:"drydock"`
	Farm             int     `json:"farm"`
	SteelMill        int     `json:"steel_mill"`
	AluminumRefinery int     `json:"aluminum_refinery"`
	OilRefinery      int     `json:"oil_refinery"`
	MunitionsFactory int     `json:"munitions_factory"`
}

// WarSummary is the reduced war record carried on a nation snapshot.
type WarSummary struct {
	ID         int    `json:"id,string"`
	AttackerID int    `json:"att_id,string"`
	DefenderID int    `json:"def_id,string"`
	WarType    string `json:"war_type"`
	TurnsLeft  int    `json:"turns_left"`
}

// Nation is the per-entity snapshot cached by the nation tier. The field set
// mirrors the upstream GraphQL nation object, trimmed to what the command and
// formula layers consume.
type Nation struct {
	ID               int          `json:"id,string"`
	NationName       string       `json:"nation_name"`
	LeaderName       string       `json:"leader_name"`
	Score            float64      `json:"score"`
	Color            string       `json:"color"`
	AllianceID       int          `json:"alliance_id,string"`
	Alliance         *AllianceRef `json:"alliance,omitempty"`
	AlliancePosition string       `json:"alliance_position"`
	LastActive       string       `json:"last_active"`
	Soldiers         int          `json:"soldiers"`
	Tanks            int          `json:"tanks"`
	Aircraft         int          `json:"aircraft"`
	Ships            int          `json:"ships"`
	Spies            int          `json:"spies"`
	Missiles         int          `json:"missiles"`
	Nukes            int          `json:"nukes"`
	VMode            bool         `json:"vmode"`
	BeigeTurns       int          `json:"beige_turns"`
	Money            float64      `json:"money"`
	Coal             float64      `json:"coal"`
	Oil              float64      `json:"oil"`
	Uranium          float64      `json:"uranium"`
	Iron             float64      `json:"iron"`
	Bauxite          float64      `json:"bauxite"`
	Lead             float64      `json:"lead"`
	Gasoline         float64      `json:"gasoline"`
	Munitions        float64      `json:"munitions"`
	Steel            float64      `json:"steel"`
	Aluminum         float64      `json:"aluminum"`
	Food             float64      `json:"food"`
	Credits          int          `json:"credits"`
	Cities           []City       `json:"cities"`
	DefensiveWars    []WarSummary `json:"defensive_wars"`
	OffensiveWars    []WarSummary `json:"offensive_wars"`
}

// AllianceSnapshot is the aggregate tier payload: the alliance record plus its
// member roster at fetch time.
type AllianceSnapshot struct {
	ID      int      `json:"id,string"`
	Name    string   `json:"name"`
	Acronym string   `json:"acronym"`
	Color   string   `json:"color"`
	Score   float64  `json:"score"`
	Members []Nation `json:"members"`
}

// TradePrices is the latest market price row for every tradeable resource.
type TradePrices struct {
	ID        int     `json:"id,string"`
	Date      string  `json:"date"`
	Coal      float64 `json:"coal"`
	Oil       float64 `json:"oil"`
	Uranium   float64 `json:"uranium"`
	Iron      float64 `json:"iron"`
	Bauxite   float64 `json:"bauxite"`
	Lead      float64 `json:"lead"`
	Gasoline  float64 `json:"gasoline"`
	Munitions float64 `json:"munitions"`
	Steel     float64 `json:"steel"`
	Aluminum  float64 `json:"aluminum"`
	Food      float64 `json:"food"`
	Credits   float64 `json:"credits"`
}

// Table is one parsed CSV dump: a header row and the data rows beneath it.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Lookup returns the index of a named column, or -1.
func (t Table) Lookup(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Dataset is the bulk tier payload: the wholesale CSV dumps the upstream
// publishes, replaced as a unit on every refresh.
type Dataset struct {
	Nations   Table     `json:"nations"`
	Cities    Table     `json:"cities"`
	Wars      Table     `json:"wars"`
	Alliances Table     `json:"alliances"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Registration links a Discord user to a nation. Persistence of registrations
// belongs to the command layer; this package only fixes the record shape and
// the store contract.
type Registration struct {
	DiscordID    string    `json:"discord_id"`
	NationID     int       `json:"nation_id"`
	NationName   string    `json:"nation_name"`
	DiscordName  string    `json:"discord_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegistrationStore is implemented by the (external) command layer.
type RegistrationStore interface {
	NationFor(discordID string) (int, bool)
	Register(reg Registration) error
}
