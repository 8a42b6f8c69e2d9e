package game

type CardType string

const (
	TypeSuspect CardType = "suspect"
	TypeWeapon  CardType = "weapon"
	TypeRoom    CardType = "room"
)

// Suspects, Weapons and MansionRooms are the three card categories. A
// mansion room is a location on the board, unrelated to the lobby room a
// party of players shares.
var Suspects = []string{
	"Miss Scarlett",
	"Colonel Mustard",
	"Mrs. White",
	"Mr. Green",
	"Mrs. Peacock",
	"Professor Plum",
}

var Weapons = []string{
	"Candlestick",
	"Knife",
	"Lead Pipe",
	"Revolver",
	"Rope",
	"Wrench",
}

var MansionRooms = []string{
	"Kitchen",
	"Ballroom",
	"Conservatory",
	"Dining Room",
	"Library",
	"Study",
	"Hall",
	"Lounge",
}

type Card struct {
	Type  CardType `json:"type"`
	Value string   `json:"value"`
}

func (c Card) String() string {
	return string(c.Type) + ": " + c.Value
}

// Catalog returns every card in the game, one per category member.
func Catalog() []Card {
	cards := make([]Card, 0, len(Suspects)+len(Weapons)+len(MansionRooms))
	for _, s := range Suspects {
		cards = append(cards, Card{Type: TypeSuspect, Value: s})
	}
	for _, w := range Weapons {
		cards = append(cards, Card{Type: TypeWeapon, Value: w})
	}
	for _, r := range MansionRooms {
		cards = append(cards, Card{Type: TypeRoom, Value: r})
	}
	return cards
}

// IsMansionRoom reports whether name is one of the board locations.
func IsMansionRoom(name string) bool {
	for _, r := range MansionRooms {
		if r == name {
			return true
		}
	}
	return false
}
