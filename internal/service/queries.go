package service

import (
	"fmt"
	"strings"
)

// nationFields is the field selection shared by single-nation and roster
// queries. Kept to the subset the formula and command layers consume.
const nationFields = `
id
nation_name
leader_name
score
color
alliance_id
alliance { id name rank }
alliance_position
last_active
soldiers
tanks
aircraft
ships
spies
missiles
nukes
vmode
beige_turns
money
coal
oil
uranium
iron
bauxite
lead
gasoline
munitions
steel
aluminum
food
credits
cities {
  id
  name
  infrastructure
  land
  barracks
  factory
  hangar
  drydock
  farm
  steel_mill
  aluminum_refinery
  oil_refinery
  munitions_factory
}
defensive_wars { id att_id def_id war_type turns_left }
offensive_wars { id att_id def_id war_type turns_left }`

func nationQuery(nationID int) string {
	return compact(fmt.Sprintf(`{
  nations(id: [%d], first: 1) {
    data { %s }
  }
}`, nationID, nationFields))
}

func allianceQuery(allianceID int) string {
	return compact(fmt.Sprintf(`{
  alliances(id: [%d], first: 1) {
    data { id name acronym color score }
  }
}`, allianceID))
}

func allianceMembersQuery(allianceID int) string {
	return compact(fmt.Sprintf(`{
  nations(alliance_id: [%d], first: 500, vmode: false) {
    data { %s }
  }
}`, allianceID, nationFields))
}

func tradePricesQuery() string {
	return compact(`{
  tradeprices(first: 1) {
    data {
      id
      date
      coal
      oil
      uranium
      iron
      bauxite
      lead
      gasoline
      munitions
      steel
      aluminum
      food
      credits
    }
  }
}`)
}

// compact collapses the readable query layout into a single line so it fits a
// query parameter without percent-encoded newlines bloating the URL.
func compact(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
