package explorer

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/davidalejandrochentes/backtesting-trading/config"
)

// sparseLimit bounds the space size for which sampling shuffles ranks.
// Larger (or saturated) spaces draw random digit vectors and reject repeats.
const sparseLimit = 1 << 24

// MaxGenerated bounds how many combinations one search may materialise.
const MaxGenerated = 1 << 20

// ErrSpaceTooLarge is returned when a search would enumerate more than
// MaxGenerated combinations.
var ErrSpaceTooLarge = errors.New("too many combinations")

// Param is one assigned parameter of a combination.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Combination is one point of the parameter space.
// ID is its 1-based position in generation order.
type Combination struct {
	ID     int     `json:"id"`
	Digits []int   `json:"-"` // value index per range
	Params []Param `json:"params"`
}

// Generate returns the combinations to evaluate. When the space holds at
// most limit points every point is returned in lexicographic order with the
// last parameter varying fastest; otherwise limit distinct points are drawn
// without replacement from rng. limit <= 0 means no limit, in which case
// spaces above MaxGenerated fail with ErrSpaceTooLarge.
func Generate(space config.ParamSpace, limit int, rng *rand.Rand) (combos []Combination, sampled bool, err error) {
	total := space.Size()
	if total == 0 {
		return nil, false, nil
	}
	n := total
	if limit > 0 && limit < total {
		n = limit
	}
	if n > MaxGenerated {
		return nil, false, fmt.Errorf("%w: %d requested, at most %d; set a sampling limit", ErrSpaceTooLarge, n, MaxGenerated)
	}

	if n == total {
		combos = make([]Combination, total)
		for r := 0; r < total; r++ {
			combos[r] = newCombination(space, r+1, digitsOf(space, r))
		}
		return combos, false, nil
	}

	combos = make([]Combination, 0, limit)
	if total <= sparseLimit {
		// Partial Fisher-Yates over ranks 0..total-1; only swapped slots are stored.
		swapped := make(map[int]int, 2*limit)
		at := func(i int) int {
			if v, ok := swapped[i]; ok {
				return v
			}
			return i
		}
		for i := 0; i < limit; i++ {
			j := i + rng.Intn(total-i)
			ri, rj := at(i), at(j)
			swapped[i], swapped[j] = rj, ri
			combos = append(combos, newCombination(space, i+1, digitsOf(space, rj)))
		}
		return combos, true, nil
	}

	seen := make(map[string]struct{}, limit)
	for len(combos) < limit {
		d := make([]int, len(space))
		for i, p := range space {
			d[i] = rng.Intn(len(p.Values))
		}
		k := digitsKey(d)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		combos = append(combos, newCombination(space, len(combos)+1, d))
	}
	return combos, true, nil
}

// digitsOf converts a rank to mixed-radix digits, last range least significant.
func digitsOf(space config.ParamSpace, rank int) []int {
	d := make([]int, len(space))
	for i := len(space) - 1; i >= 0; i-- {
		k := len(space[i].Values)
		d[i] = rank % k
		rank /= k
	}
	return d
}

func digitsKey(d []int) string {
	var b strings.Builder
	for i, v := range d {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func newCombination(space config.ParamSpace, id int, digits []int) Combination {
	params := make([]Param, len(space))
	for i, p := range space {
		params[i] = Param{Name: p.Name, Value: p.Values[digits[i]]}
	}
	return Combination{ID: id, Digits: digits, Params: params}
}
