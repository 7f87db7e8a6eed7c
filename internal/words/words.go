// Package words supplies the word pairs used by unlock challenges.
package words

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
)

//go:embed words.json
var builtin []byte

// ErrTooFewWords is returned when a list cannot yield two distinct words.
var ErrTooFewWords = errors.New("words: at least two distinct words are required")

// Word is one entry of the list. Challenges use the Korean form.
type Word struct {
	Korean     string `json:"korean"`
	English    string `json:"english"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

// Pair is the two words a challenge sentence must contain.
type Pair struct {
	First  Word `json:"first"`
	Second Word `json:"second"`
}

// Strings returns the two words as they must appear in a sentence.
func (p Pair) Strings() (string, string) {
	return p.First.Korean, p.Second.Korean
}

func (p Pair) key() string {
	a, b := p.Strings()
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

type database struct {
	Words []Word `json:"words"`
}

// Load reads a word list from path, or the built-in list when path is empty.
func Load(path string) ([]Word, error) {
	data := builtin
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read word list: %w", err)
		}
	}

	var db database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse word list: %w", err)
	}
	return db.Words, nil
}

// Picker draws random pairs of distinct words and avoids handing out a
// pair that was drawn recently.
type Picker struct {
	mu     sync.Mutex
	words  []Word
	recent *lru.Cache[string, struct{}]
	rng    *rand.Rand
}

// drawAttempts bounds the search for an unseen pair on small lists.
const drawAttempts = 32

// NewPicker creates a picker remembering the last recentPairs draws.
func NewPicker(list []Word, recentPairs int) (*Picker, error) {
	seen := make(map[string]struct{}, len(list))
	words := make([]Word, 0, len(list))
	for _, w := range list {
		if w.Korean == "" {
			continue
		}
		if _, dup := seen[w.Korean]; dup {
			continue
		}
		seen[w.Korean] = struct{}{}
		words = append(words, w)
	}
	if len(words) < 2 {
		return nil, ErrTooFewWords
	}

	if recentPairs <= 0 {
		recentPairs = 1
	}
	cache, err := lru.New[string, struct{}](recentPairs)
	if err != nil {
		return nil, fmt.Errorf("failed to create recent pair cache: %w", err)
	}

	return &Picker{
		words:  words,
		recent: cache,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// Len returns the number of distinct words available.
func (p *Picker) Len() int {
	return len(p.words)
}

// Draw returns a new pair of distinct words.
func (p *Picker) Draw() Pair {
	p.mu.Lock()
	defer p.mu.Unlock()

	pair := p.random()
	for i := 1; i < drawAttempts && p.recent.Contains(pair.key()); i++ {
		pair = p.random()
	}
	if p.recent.Contains(pair.key()) {
		if unseen, ok := p.scan(); ok {
			pair = unseen
		}
	}
	p.recent.Add(pair.key(), struct{}{})
	return pair
}

// scan walks every pair from a random offset looking for one not drawn
// recently. It must be called with p.mu held.
func (p *Picker) scan() (Pair, bool) {
	n := len(p.words)
	offset := p.rng.IntN(n)
	for a := 0; a < n; a++ {
		i := (a + offset) % n
		for b := a + 1; b < n; b++ {
			j := (b + offset) % n
			pair := Pair{First: p.words[i], Second: p.words[j]}
			if !p.recent.Contains(pair.key()) {
				return pair, true
			}
		}
	}
	return Pair{}, false
}

// random must be called with p.mu held.
func (p *Picker) random() Pair {
	i := p.rng.IntN(len(p.words))
	j := p.rng.IntN(len(p.words) - 1)
	if j >= i {
		j++
	}
	return Pair{First: p.words[i], Second: p.words[j]}
}
