package catalog

import (
	"math/rand"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var adjectives = []string{
	"amber", "brave", "clumsy", "dizzy", "eager", "fuzzy", "gentle", "hasty",
	"icy", "jolly", "lively", "mellow", "nimble", "odd", "plucky", "quiet",
	"rusty", "sleepy", "tiny", "upbeat", "velvet", "wobbly", "young", "zesty",
}

var nouns = []string{
	"badger", "biscuit", "cactus", "comet", "dragon", "falcon", "garden", "harbor",
	"island", "jelly", "kettle", "lantern", "meadow", "noodle", "otter", "pebble",
	"puppet", "robot", "rocket", "teapot", "tiger", "umbrella", "walrus", "yeti",
}

var titleCaser = cases.Title(language.English)

// GenerateTitle returns a random "Adjective Noun" project title.
func GenerateTitle() string {
	return titleCaser.String(adjectives[rand.Intn(len(adjectives))] + " " + nouns[rand.Intn(len(nouns))])
}
