package abis

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestGetSwapRouterABI(t *testing.T) {
	parsed, err := GetSwapRouterABI()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"swapExactTokensForTokens", "swapTokensForExactTokens"} {
		m, ok := parsed.Methods[name]
		if !ok {
			t.Fatalf("missing method %s", name)
		}
		if len(m.Inputs) != 5 {
			t.Errorf("%s: expected 5 inputs, got %d", name, len(m.Inputs))
		}
	}
	// Well-known selector of swapExactTokensForTokens.
	if got := parsed.Methods["swapExactTokensForTokens"].ID; string(got) != string([]byte{0x38, 0xed, 0x17, 0x39}) {
		t.Errorf("unexpected selector %x", got)
	}
}

func TestGetERC20ABI_TransferTopic(t *testing.T) {
	parsed, err := GetERC20ABI()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev, ok := parsed.Events["Transfer"]
	if !ok {
		t.Fatal("missing Transfer event")
	}
	want := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	if ev.ID != want {
		t.Errorf("expected topic %s, got %s", want, ev.ID)
	}
}

func TestParseABI_Invalid(t *testing.T) {
	if _, err := ParseABI(`{not json`); err == nil {
		t.Fatal("expected error")
	}
}
