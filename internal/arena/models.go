package arena

import (
	"errors"
	"math/rand/v2"
	"strings"
)

// ErrTooFewModels is returned when fewer than two distinct models are
// configured.
var ErrTooFewModels = errors.New("at least two distinct models are required")

// ParseModelList splits a comma-separated model list, trimming blanks and
// dropping duplicates.
func ParseModelList(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range strings.Split(s, ",") {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// SampleModels picks two distinct models uniformly at random. The first
// runs as modelA, the second as modelB.
func SampleModels(r *rand.Rand, models []string) (string, string, error) {
	models = ParseModelList(strings.Join(models, ","))
	if len(models) < 2 {
		return "", "", ErrTooFewModels
	}
	i := r.IntN(len(models))
	j := r.IntN(len(models) - 1)
	if j >= i {
		j++
	}
	return models[i], models[j], nil
}
