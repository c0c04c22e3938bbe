package delegates

import "testing"

const (
	hotkeyA = "5C62Ck4UrFPiBtoCmeSrgF7x9yv9mn38446dhCpsi2mLHiFT"
	hotkeyB = "5C7LYpP2ZH3tpKbvVvwiVe54AapxErdPBbvkYhe6y9ZBkqWt"
	hotkeyC = "5C8etthaGJi5SkQeEDSaK32ABBjkhwDeK9ksQCTLEGM3EH14"
	hotkeyD = "5C9yEy27yLNG5BDMxVwS8RyGBneZB1ouShazFhGZVP8thK5z"
)

func TestIsHotkey(t *testing.T) {
	for _, v := range []string{TaoBotHotkey, hotkeyA, hotkeyB, hotkeyC, hotkeyD} {
		if !IsHotkey(v) {
			t.Fatalf("expected %s to be a valid hotkey", v)
		}
	}

	invalid := []string{
		"",
		"tao.bot",
		hotkeyA[:len(hotkeyA)-1] + "G",
		"0C62Ck4UrFPiBtoCmeSrgF7x9yv9mn38446dhCpsi2mLHiFT",
		"5C62Ck4UrFPiBtoCmeSrgF7x9yv9mn38446dhCpsi2mLHiFT5C62",
	}
	for _, v := range invalid {
		if IsHotkey(v) {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func TestShortHotkey(t *testing.T) {
	if got := shortHotkey(TaoBotHotkey); got != "5E2LP6…eZ5u" {
		t.Fatalf("unexpected short hotkey %q", got)
	}
}
