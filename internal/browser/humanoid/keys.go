// internal/browser/humanoid/keys.go
package humanoid

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// keyboardNeighbors maps each key to the keys physically adjacent on a
// QWERTY layout. Typo injection substitutes from this set so the errors
// look like finger slips, not random noise.
var keyboardNeighbors = map[rune][]rune{
	'q': {'w', 'a', '1', '2'},
	'w': {'q', 'e', 's', 'a', '2', '3'},
	'e': {'w', 'r', 'd', 's', '3', '4'},
	'r': {'e', 't', 'f', 'd', '4', '5'},
	't': {'r', 'y', 'g', 'f', '5', '6'},
	'y': {'t', 'u', 'h', 'g', '6', '7'},
	'u': {'y', 'i', 'j', 'h', '7', '8'},
	'i': {'u', 'o', 'k', 'j', '8', '9'},
	'o': {'i', 'p', 'l', 'k', '9', '0'},
	'p': {'o', 'l', '0'},
	'a': {'q', 'w', 's', 'z'},
	's': {'a', 'd', 'w', 'e', 'z', 'x'},
	'd': {'s', 'f', 'e', 'r', 'x', 'c'},
	'f': {'d', 'g', 'r', 't', 'c', 'v'},
	'g': {'f', 'h', 't', 'y', 'v', 'b'},
	'h': {'g', 'j', 'y', 'u', 'b', 'n'},
	'j': {'h', 'k', 'u', 'i', 'n', 'm'},
	'k': {'j', 'l', 'i', 'o', 'm'},
	'l': {'k', 'o', 'p'},
	'z': {'a', 's', 'x'},
	'x': {'z', 'c', 's', 'd'},
	'c': {'x', 'v', 'd', 'f'},
	'v': {'c', 'b', 'f', 'g'},
	'b': {'v', 'n', 'g', 'h'},
	'n': {'b', 'm', 'h', 'j'},
	'm': {'n', 'j', 'k'},
	' ': {' '},
}

// commonDigraphs are high-frequency english letter pairs. Practiced
// sequences roll off the fingers faster, so their inter-key gap gets a
// sub-1.0 factor.
var commonDigraphs = map[string]float64{
	"th": 0.72, "he": 0.74, "in": 0.77, "er": 0.78, "an": 0.80,
	"re": 0.82, "on": 0.82, "en": 0.83, "at": 0.83, "es": 0.84,
	"or": 0.85, "te": 0.85, "ti": 0.86, "st": 0.86, "nd": 0.87,
	"to": 0.87, "nt": 0.87, "ed": 0.88, "is": 0.88, "ar": 0.89,
	"ou": 0.89, "al": 0.90, "ng": 0.90, "it": 0.91, "as": 0.91,
}

var commonTrigraphs = map[string]float64{
	"the": 0.88, "and": 0.90, "ing": 0.88, "ion": 0.92, "ent": 0.92,
	"her": 0.93, "for": 0.93, "tha": 0.94, "ere": 0.94, "ate": 0.94,
}

// cadenceFactor derives the speed multiplier for the gap before cur,
// given the already-typed tail.
func cadenceFactor(tail string, cur rune) float64 {
	f := 1.0
	low := strings.ToLower(tail + string(cur))
	if n := len(low); n >= 2 {
		if df, ok := commonDigraphs[low[n-2:]]; ok {
			f *= df
		}
	}
	if n := len(low); n >= 3 {
		if tf, ok := commonTrigraphs[low[n-3:]]; ok {
			f *= tf
		}
	}
	// shifted characters cost a modifier reach
	if unicode.IsUpper(cur) || strings.ContainsRune("!@#$%^&*()_+{}|:\"<>?~", cur) {
		f *= 1.45
	}
	return f
}

// keyGap samples the pause before the next keystroke.
func (d *Driver) keyGap(tail string, cur rune) time.Duration {
	base := d.randDur(d.prof.keyDelayMin, d.prof.keyDelayMax)
	return time.Duration(float64(base) * cadenceFactor(tail, cur))
}

// keyHold samples how long the key stays down. The backend folds this
// into its down/up dispatch.
func (d *Driver) keyHold() time.Duration {
	return d.gaussMs(d.prof.keyHoldMu, d.prof.keyHoldMu*0.2)
}

func (d *Driver) pressRune(ctx context.Context, r rune) error {
	if err := d.backend.SendKeys(ctx, string(r)); err != nil {
		return err
	}
	d.tire(0.15)
	return d.sleep(ctx, d.keyHold())
}

// Type clicks the element to focus it, then enters text rune by rune
// with n-gram weighted cadence, word-boundary breathing room, and the
// configured rate of corrected typos. The final field value always
// equals text; typos are injected and then repaired in-band.
func (d *Driver) Type(ctx context.Context, selector, text string) error {
	if err := d.Click(ctx, selector); err != nil {
		return fmt.Errorf("focusing %q: %w", selector, err)
	}
	if err := d.Hesitate(ctx); err != nil {
		return err
	}

	runes := []rune(text)
	var tail strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if err := d.sleep(ctx, d.keyGap(tail.String(), r)); err != nil {
			return err
		}

		// word boundaries get an occasional longer beat, the burst
		// rhythm of someone composing rather than transcribing
		if r == ' ' && d.chance(0.22) {
			if err := d.sleep(ctx, d.gaussMs(260, 110)); err != nil {
				return err
			}
		}

		if d.shouldTypo(r) {
			consumed, err := d.typoAndRepair(ctx, r, runes, i)
			if err != nil {
				return err
			}
			for k := 0; k < consumed; k++ {
				tail.WriteRune(runes[i+k])
			}
			i += consumed - 1
			trimTail(&tail)
			continue
		}

		if err := d.pressRune(ctx, r); err != nil {
			return err
		}
		tail.WriteRune(r)
		trimTail(&tail)
	}
	return nil
}

// trimTail keeps only the last three bytes of typed history, which is
// all the n-gram cadence lookup ever reads.
func trimTail(tail *strings.Builder) {
	if tail.Len() > 3 {
		s := tail.String()
		tail.Reset()
		tail.WriteString(s[len(s)-3:])
	}
}

// shouldTypo gates injection to lowercase letters so repairs need no
// modifier gymnastics, and raises the rate slightly when tired.
func (d *Driver) shouldTypo(r rune) bool {
	if r < 'a' || r > 'z' {
		return false
	}
	rate := d.prof.typoRate * (1 + d.fatigue*0.8)
	return d.chance(rate)
}

// typoAndRepair performs one believable mistake around intended and
// restores the correct output. Substitution hits a neighboring key;
// transposition types the next rune early. Both end with backspaces and
// the intended sequence. Returns how many input runes the repair
// consumed (2 for a transposition, 1 otherwise) so the caller can
// advance past them.
func (d *Driver) typoAndRepair(ctx context.Context, intended rune, runes []rune, i int) (int, error) {
	neighbors := keyboardNeighbors[intended]
	canTranspose := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'

	if canTranspose && d.chance(0.3) {
		// type the pair swapped, notice, back out both, redo
		if err := d.pressRune(ctx, runes[i+1]); err != nil {
			return 0, err
		}
		if err := d.sleep(ctx, d.keyGap("", intended)); err != nil {
			return 0, err
		}
		if err := d.pressRune(ctx, intended); err != nil {
			return 0, err
		}
		if err := d.sleep(ctx, d.gaussMs(240, 80)); err != nil { // realization
			return 0, err
		}
		for k := 0; k < 2; k++ {
			if err := d.pressRune(ctx, rune(KeyBackspace[0])); err != nil {
				return 0, err
			}
			if err := d.sleep(ctx, d.gaussMs(95, 25)); err != nil {
				return 0, err
			}
		}
		if err := d.pressRune(ctx, intended); err != nil {
			return 0, err
		}
		if err := d.sleep(ctx, d.keyGap(string(intended), runes[i+1])); err != nil {
			return 0, err
		}
		if err := d.pressRune(ctx, runes[i+1]); err != nil {
			return 0, err
		}
		return 2, nil
	}

	if len(neighbors) == 0 {
		return 1, d.pressRune(ctx, intended)
	}
	wrong := neighbors[d.rng.Intn(len(neighbors))]
	if err := d.pressRune(ctx, wrong); err != nil {
		return 0, err
	}
	if err := d.sleep(ctx, d.gaussMs(220, 70)); err != nil { // realization
		return 0, err
	}
	if err := d.pressRune(ctx, rune(KeyBackspace[0])); err != nil {
		return 0, err
	}
	if err := d.sleep(ctx, d.gaussMs(110, 30)); err != nil {
		return 0, err
	}
	return 1, d.pressRune(ctx, intended)
}

// Clear empties the focused input with a select-all chord and a single
// delete, the way people actually wipe a field. It clicks first so the
// chord lands on the right element.
func (d *Driver) Clear(ctx context.Context, selector string) error {
	if err := d.Click(ctx, selector); err != nil {
		return fmt.Errorf("focusing %q: %w", selector, err)
	}
	if err := d.sleep(ctx, d.gaussMs(120, 40)); err != nil {
		return err
	}
	chord := schemas.KeyEventData{Key: "a", Modifiers: schemas.ModCtrl}
	if err := d.backend.DispatchKeyChord(ctx, chord); err != nil {
		return fmt.Errorf("select-all in %q: %w", selector, err)
	}
	if err := d.sleep(ctx, d.gaussMs(90, 30)); err != nil {
		return err
	}
	if err := d.backend.SendKeys(ctx, string(KeyBackspace)); err != nil {
		return fmt.Errorf("clearing %q: %w", selector, err)
	}
	d.tire(0.5)
	return nil
}

// PressKey sends one control key to whatever currently holds focus.
func (d *Driver) PressKey(ctx context.Context, key ControlKey) error {
	if err := d.sleep(ctx, d.gaussMs(140, 50)); err != nil {
		return err
	}
	if err := d.backend.SendKeys(ctx, string(key)); err != nil {
		return err
	}
	d.tire(0.3)
	return nil
}
