package gate

import (
	"errors"
	"testing"

	"github.com/mwantia/isopod/data"
)

const testPackage = "github.com/mwantia/isopod/gate"

// loadDynamicLibrary plays the role of a whitelisted engine trampoline.
func loadDynamicLibrary(g *Gate, raw []byte) error {
	return g.Instantiate(raw)
}

// rogueLoader has a plausible name but is not whitelisted.
func rogueLoader(g *Gate, raw []byte) error {
	return g.Instantiate(raw)
}

type spy struct {
	calls int
}

func (s *spy) primitive(raw []byte) error {
	s.calls++
	return nil
}

func newTestGate(s *spy, funcs ...string) *Gate {
	g, _ := New(s.primitive, Config{
		TrustedPackage: testPackage,
		TrustedFuncs:   funcs,
	}, nil)
	return g
}

func TestGate_WhitelistedCallerPasses(t *testing.T) {
	s := &spy{}
	g := newTestGate(s, "loadDynamicLibrary")

	if err := loadDynamicLibrary(g, []byte{0x00}); err != nil {
		t.Fatalf("whitelisted caller denied: %v", err)
	}

	if s.calls != 1 {
		t.Fatalf("expected primitive invoked once, got %d", s.calls)
	}
}

func TestGate_UnlistedCallerDenied(t *testing.T) {
	s := &spy{}
	g := newTestGate(s, "loadDynamicLibrary")

	err := rogueLoader(g, []byte{0x00})
	if !errors.Is(err, data.ErrCapability) {
		t.Fatalf("expected ErrCapability, got %v", err)
	}

	if s.calls != 0 {
		t.Fatalf("primitive must not be invoked on denial, got %d calls", s.calls)
	}
}

func TestGate_DirectCallDenied(t *testing.T) {
	s := &spy{}
	g := newTestGate(s, "loadDynamicLibrary")

	// The test function itself is not whitelisted.
	err := g.Instantiate([]byte{0x00})
	if !errors.Is(err, data.ErrCapability) {
		t.Fatalf("expected ErrCapability, got %v", err)
	}

	if s.calls != 0 {
		t.Fatal("primitive invoked despite denial")
	}
}

func TestGate_WrongPackageDenied(t *testing.T) {
	s := &spy{}
	g, _ := New(s.primitive, Config{
		TrustedPackage: "github.com/mwantia/isopod/engine",
		TrustedFuncs:   []string{"loadDynamicLibrary"},
	}, nil)

	// Same function name, wrong package.
	err := loadDynamicLibrary(g, []byte{0x00})
	if !errors.Is(err, data.ErrCapability) {
		t.Fatalf("expected ErrCapability for wrong package, got %v", err)
	}

	if s.calls != 0 {
		t.Fatal("primitive invoked despite denial")
	}
}

func TestGate_TokenPath(t *testing.T) {
	s := &spy{}
	g, tok := New(s.primitive, Config{}, nil)

	if err := g.InstantiateTrusted(tok, []byte{0x00}); err != nil {
		t.Fatalf("minted token denied: %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("expected 1 call, got %d", s.calls)
	}

	var forged Token
	err := g.InstantiateTrusted(forged, []byte{0x00})
	if !errors.Is(err, data.ErrCapability) {
		t.Fatalf("expected ErrCapability for zero token, got %v", err)
	}
	if s.calls != 1 {
		t.Fatal("primitive invoked with forged token")
	}
}

func TestSplitFunction(t *testing.T) {
	cases := []struct {
		symbol string
		pkg    string
		fn     string
	}{
		{"github.com/mwantia/isopod/gate.loadDynamicLibrary", "github.com/mwantia/isopod/gate", "loadDynamicLibrary"},
		{"github.com/mwantia/isopod/engine.(*Emulated).load", "github.com/mwantia/isopod/engine", "(*Emulated).load"},
		{"main.main", "main", "main"},
	}

	for _, c := range cases {
		pkg, fn := splitFunction(c.symbol)
		if pkg != c.pkg || fn != c.fn {
			t.Errorf("splitFunction(%q) = %q, %q; want %q, %q", c.symbol, pkg, fn, c.pkg, c.fn)
		}
	}
}
