package repository

import (
	"fmt"
	"math/rand/v2"
)

// Participant names are human-friendly labels like "BlueWhale-4821":
// adjective + animal from fixed pools plus a 4-digit tail.

var nameAdjectives = []string{
	"Blue", "Crimson", "Golden", "Silver", "Emerald",
	"Amber", "Ivory", "Violet", "Scarlet", "Cobalt",
	"Swift", "Quiet", "Brave", "Clever", "Gentle",
	"Mighty", "Nimble", "Proud", "Calm", "Bright",
}

var nameAnimals = []string{
	"Whale", "Falcon", "Otter", "Lynx", "Heron",
	"Badger", "Dolphin", "Raven", "Tiger", "Panda",
	"Fox", "Owl", "Wolf", "Crane", "Turtle",
	"Eagle", "Seal", "Moose", "Hawk", "Bison",
}

// generateParticipantName returns a fresh participant label.
func generateParticipantName() string {
	adj := nameAdjectives[rand.IntN(len(nameAdjectives))]
	animal := nameAnimals[rand.IntN(len(nameAnimals))]
	return fmt.Sprintf("%s%s-%04d", adj, animal, rand.IntN(10000))
}
