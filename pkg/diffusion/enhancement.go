package diffusion

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownEnhancement indicates an enhancement mode outside the known set.
var ErrUnknownEnhancement = errors.New("diffusion: unknown enhancement mode")

// Enhancement selects how structure tensor eigenvalues become diffusion
// tensor eigenvalues.
type Enhancement int

const (
	// CED is coherence-enhancing diffusion.
	CED Enhancement = iota
	// CCED is conservative coherence-enhancing diffusion.
	CCED
	// EED is edge-enhancing diffusion.
	EED
	// CEED is conservative edge-enhancing diffusion.
	CEED
	// Isotropic diffuses equally in all directions with a contrast-driven rate.
	Isotropic
)

var enhancementNames = []string{"CED", "cCED", "EED", "cEED", "Isotropic"}

func (e Enhancement) String() string {
	if e >= 0 && int(e) < len(enhancementNames) {
		return enhancementNames[e]
	}
	return fmt.Sprintf("Enhancement(%d)", int(e))
}

// ParseEnhancement accepts the names returned by String, case-insensitively.
func ParseEnhancement(s string) (Enhancement, error) {
	for i, name := range enhancementNames {
		if strings.EqualFold(s, name) {
			return Enhancement(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEnhancement, s)
}

// Valid reports whether e is one of the known modes.
func (e Enhancement) Valid() bool { return e >= 0 && int(e) < len(enhancementNames) }

// MarshalText implements encoding.TextMarshaler.
func (e Enhancement) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEnhancement, int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Enhancement) UnmarshalText(text []byte) error {
	v, err := ParseEnhancement(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// EigenTransform maps the ascending eigenvalues of a structure tensor to
// diffusion tensor eigenvalues.
type EigenTransform struct {
	Mode     Enhancement
	Lambda   float64
	Exponent float64
	Alpha    float64
}

// GCED is α at s <= 0 and tends to 1 as s grows.
func (t EigenTransform) GCED(s float64) float64 {
	if s <= 0 {
		return t.Alpha
	}
	return t.Alpha + (1-t.Alpha)*math.Exp(-math.Pow(t.Lambda/s, t.Exponent))
}

// GEED is 1 at s <= 0 and tends to α as s grows.
func (t EigenTransform) GEED(s float64) float64 {
	if s <= 0 {
		return 1
	}
	return 1 - (1-t.Alpha)*math.Exp(-math.Pow(t.Lambda/s, t.Exponent))
}

// Apply writes the transformed value of every entry of ev, which must be
// sorted ascending, into out. out and ev may alias.
func (t EigenTransform) Apply(ev, out []float64) {
	n := len(ev)
	if n == 0 {
		return
	}
	evMin, evMax := ev[0], ev[n-1]
	for i, v := range ev {
		switch t.Mode {
		case CED:
			out[i] = t.GCED(evMax - v)
		case CCED:
			out[i] = t.GCED((evMax - v) / (1 + v/t.Lambda))
		case EED:
			out[i] = t.GEED(v - evMin)
		case CEED:
			out[i] = t.GEED(v)
		case Isotropic:
			out[i] = t.GEED(evMax)
		default:
			panic(fmt.Sprintf("diffusion: %v", t.Mode))
		}
	}
}
