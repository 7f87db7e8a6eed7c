package words

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinList(t *testing.T) {
	list, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) < 50 {
		t.Fatalf("built-in list too small: %d", len(list))
	}
	for _, w := range list {
		if w.Korean == "" || w.English == "" {
			t.Errorf("incomplete entry: %+v", w)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.json")
	body := `{"words":[{"korean":"바다","english":"ocean","category":"명사","difficulty":"easy"},{"korean":"꿈","english":"dream","category":"추상명사","difficulty":"easy"}]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 2 || list[1].English != "dream" {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestPickerRejectsTinyList(t *testing.T) {
	_, err := NewPicker([]Word{{Korean: "바다"}, {Korean: "바다"}}, 4)
	if err != ErrTooFewWords {
		t.Fatalf("expected ErrTooFewWords, got %v", err)
	}
}

func TestDrawDistinct(t *testing.T) {
	list, _ := Load("")
	p, err := NewPicker(list, 16)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500; i++ {
		pair := p.Draw()
		a, b := pair.Strings()
		if a == b {
			t.Fatalf("draw %d returned the same word twice: %s", i, a)
		}
	}
}

func TestDrawAvoidsRecentPairs(t *testing.T) {
	list := []Word{{Korean: "바다"}, {Korean: "꿈"}, {Korean: "별"}}
	// Three words give exactly three unordered pairs.
	p, err := NewPicker(list, 2)
	if err != nil {
		t.Fatal(err)
	}

	for round := 0; round < 20; round++ {
		first := p.Draw()
		second := p.Draw()
		third := p.Draw()
		if first.key() == second.key() || second.key() == third.key() || first.key() == third.key() {
			t.Fatalf("round %d repeated a recent pair: %v %v %v", round, first, second, third)
		}
	}
}
