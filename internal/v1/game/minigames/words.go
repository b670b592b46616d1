package minigames

import "strings"

// drawingWords is the built-in vocabulary for draw & guess, grouped by
// category. Lookups go through the shared cache first (word keyspace) so
// repeated validity checks stay cheap.
var drawingWords = map[string][]string{
	"animals": {
		"elephant", "penguin", "giraffe", "octopus", "kangaroo",
		"hedgehog", "flamingo", "dolphin", "squirrel", "crocodile",
	},
	"objects": {
		"umbrella", "telescope", "lighthouse", "backpack", "skateboard",
		"toothbrush", "hourglass", "ladder", "anchor", "compass",
	},
	"food": {
		"pancake", "spaghetti", "watermelon", "croissant", "pineapple",
		"sandwich", "cupcake", "avocado", "pretzel", "burrito",
	},
	"places": {
		"waterfall", "volcano", "library", "stadium", "desert",
		"island", "castle", "harbor", "glacier", "jungle",
	},
	"actions": {
		"juggling", "surfing", "whistling", "climbing", "fishing",
		"dancing", "sneezing", "painting", "yawning", "rowing",
	},
}

var wordIndex = buildWordIndex()

func buildWordIndex() map[string]struct{} {
	idx := make(map[string]struct{})
	for _, words := range drawingWords {
		for _, w := range words {
			idx[w] = struct{}{}
		}
	}
	return idx
}

// WordList returns the flattened vocabulary in category order.
func WordList() []string {
	out := make([]string, 0, len(wordIndex))
	for _, category := range []string{"animals", "objects", "food", "places", "actions"} {
		out = append(out, drawingWords[category]...)
	}
	return out
}

// IsVocabularyWord reports whether w is in the built-in vocabulary, ignoring
// case and surrounding whitespace.
func IsVocabularyWord(w string) bool {
	_, ok := wordIndex[strings.ToLower(strings.TrimSpace(w))]
	return ok
}
