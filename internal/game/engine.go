package game

import (
	"errors"
	"math/rand"
)

// Solution is the hidden triple every accusation is checked against.
type Solution struct {
	Suspect string `json:"suspect"`
	Weapon  string `json:"weapon"`
	Room    string `json:"room"`
}

type Accusation struct {
	Suspect string `json:"suspect"`
	Weapon  string `json:"weapon"`
	Room    string `json:"room"`
}

// Disproof identifies the player who can contradict a suggestion and the
// cards they could show. Cards is ordered suspect, weapon, room; the first
// entry is the card the engine has decided is revealed.
type Disproof struct {
	PlayerID int64  `json:"playerId"`
	Card     Card   `json:"card"`
	Cards    []Card `json:"cards"`
}

// State is the per-room game state created once at start-game. TurnOrder is
// frozen at creation: players who disconnect later keep their slot and the
// turn index always advances modulo the original length.
type State struct {
	Solution    Solution         `json:"solution"`
	Catalog     []Card           `json:"catalog"`
	Hands       map[int64][]Card `json:"hands"`
	TurnOrder   []int64          `json:"turnOrder"`
	CurrentTurn int              `json:"currentTurn"`
	Eliminated  map[int64]bool   `json:"eliminated"`
}

// NewState picks a solution, shuffles the remaining cards and deals them
// round-robin across orderedPlayerIDs. Every non-solution card lands in
// exactly one hand, so hand sizes differ by at most one.
func NewState(orderedPlayerIDs []int64) (*State, error) {
	if len(orderedPlayerIDs) == 0 {
		return nil, errors.New("no players to deal to")
	}

	solution := Solution{
		Suspect: Suspects[rand.Intn(len(Suspects))],
		Weapon:  Weapons[rand.Intn(len(Weapons))],
		Room:    MansionRooms[rand.Intn(len(MansionRooms))],
	}

	// Deal pool: the full catalog minus the three solution cards.
	pool := make([]Card, 0, len(Suspects)+len(Weapons)+len(MansionRooms)-3)
	for _, c := range Catalog() {
		if isSolutionCard(c, solution) {
			continue
		}
		pool = append(pool, c)
	}

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	hands := make(map[int64][]Card, len(orderedPlayerIDs))
	for _, id := range orderedPlayerIDs {
		hands[id] = []Card{}
	}
	for i, card := range pool {
		id := orderedPlayerIDs[i%len(orderedPlayerIDs)]
		hands[id] = append(hands[id], card)
	}

	order := make([]int64, len(orderedPlayerIDs))
	copy(order, orderedPlayerIDs)

	return &State{
		Solution:    solution,
		Catalog:     Catalog(),
		Hands:       hands,
		TurnOrder:   order,
		CurrentTurn: 0,
		Eliminated:  make(map[int64]bool),
	}, nil
}

func isSolutionCard(c Card, s Solution) bool {
	switch c.Type {
	case TypeSuspect:
		return c.Value == s.Suspect
	case TypeWeapon:
		return c.Value == s.Weapon
	case TypeRoom:
		return c.Value == s.Room
	}
	return false
}

// CheckSuggestion walks the turn order (skipping the accuser) and returns
// the first player holding any of the three accused cards. Within one hand
// the suspect card outranks the weapon card, which outranks the room card.
// A nil result means nobody can disprove; the suggestion stands and the
// solution is neither revealed nor eliminated.
func (s *State) CheckSuggestion(accuserID int64, acc Accusation) *Disproof {
	accused := []Card{
		{Type: TypeSuspect, Value: acc.Suspect},
		{Type: TypeWeapon, Value: acc.Weapon},
		{Type: TypeRoom, Value: acc.Room},
	}

	for _, playerID := range s.TurnOrder {
		if playerID == accuserID {
			continue
		}

		var matches []Card
		for _, want := range accused {
			for _, held := range s.Hands[playerID] {
				if held == want {
					matches = append(matches, held)
					break
				}
			}
		}

		if len(matches) > 0 {
			return &Disproof{
				PlayerID: playerID,
				Card:     matches[0],
				Cards:    matches,
			}
		}
	}

	return nil
}

// CheckFinal reports whether a final accusation matches the solution
// exactly. Identifiers are compared case-sensitively.
func (s *State) CheckFinal(acc Accusation) bool {
	return acc.Suspect == s.Solution.Suspect &&
		acc.Weapon == s.Solution.Weapon &&
		acc.Room == s.Solution.Room
}

// AdvanceTurn moves to the next slot in the original order and returns the
// player now on turn.
func (s *State) AdvanceTurn() int64 {
	s.CurrentTurn = (s.CurrentTurn + 1) % len(s.TurnOrder)
	return s.TurnOrder[s.CurrentTurn]
}

func (s *State) CurrentPlayerID() int64 {
	return s.TurnOrder[s.CurrentTurn]
}

func (s *State) IsPlayersTurn(playerID int64) bool {
	return s.TurnOrder[s.CurrentTurn] == playerID
}

func (s *State) IsEliminated(playerID int64) bool {
	return s.Eliminated[playerID]
}

// Eliminate marks a player whose final accusation was wrong. They keep
// their turn slot but may not accuse again.
func (s *State) Eliminate(playerID int64) {
	s.Eliminated[playerID] = true
}

// HandOf returns the cards dealt to a player.
func (s *State) HandOf(playerID int64) []Card {
	return s.Hands[playerID]
}
