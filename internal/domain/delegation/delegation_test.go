package delegation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Strob0t/FeedbackForge/internal/domain"
)

const (
	delegateAddr  = "0x1111111111111111111111111111111111111111"
	delegatorAddr = "0x2222222222222222222222222222222222222222"
	enforcerAddr  = "0x3333333333333333333333333333333333333333"
	targetAddr    = "0x4444444444444444444444444444444444444444"
)

func flatDelegation() Delegation {
	return Delegation{
		Delegate:  delegateAddr,
		Delegator: delegatorAddr,
		Authority: RootAuthority,
		Caveats: []Caveat{
			{Enforcer: enforcerAddr, Terms: "0x0102"},
		},
		Salt:      "0x01",
		Signature: "0xdeadbeef",
	}
}

func TestNormalizeFlat(t *testing.T) {
	got, err := Normalize(flatDelegation())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Caveats[0].Args != "0x" {
		t.Fatalf("expected caveat args to default to 0x, got %q", got.Caveats[0].Args)
	}
	if got.Message != nil {
		t.Fatal("normalized delegation must be flat")
	}
}

func TestNormalizeUnwrapsMessage(t *testing.T) {
	raw := `{
		"message": {
			"delegate": "` + delegateAddr + `",
			"delegator": "` + delegatorAddr + `",
			"authority": "` + RootAuthority + `",
			"salt": 42
		},
		"signature": "0xabcdef"
	}`
	var d Delegation
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatal(err)
	}

	got, err := Normalize(d)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Delegate != delegateAddr || got.Delegator != delegatorAddr {
		t.Fatalf("unexpected addresses %+v", got)
	}
	if got.Signature != "0xabcdef" {
		t.Fatalf("expected outer signature, got %q", got.Signature)
	}
	if got.Caveats == nil || len(got.Caveats) != 0 {
		t.Fatalf("expected empty caveats, got %#v", got.Caveats)
	}
	if got.Salt != "42" {
		t.Fatalf("expected salt 42, got %q", got.Salt)
	}

	data, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if cav, ok := back["caveats"].([]any); !ok || len(cav) != 0 {
		t.Fatalf("expected caveats [] in JSON, got %s", data)
	}
}

func TestNormalizeMessageSignatureFallback(t *testing.T) {
	inner := flatDelegation()
	got, err := Normalize(Delegation{Message: &inner})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Signature != inner.Signature {
		t.Fatalf("expected message signature, got %q", got.Signature)
	}
}

func TestNormalizeMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Delegation)
	}{
		{"no delegate", func(d *Delegation) { d.Delegate = "" }},
		{"bad delegator", func(d *Delegation) { d.Delegator = "0x12" }},
		{"short authority", func(d *Delegation) { d.Authority = "0xff" }},
		{"no salt", func(d *Delegation) { d.Salt = "" }},
		{"negative salt", func(d *Delegation) { d.Salt = "-1" }},
		{"no signature", func(d *Delegation) { d.Signature = "" }},
		{"empty signature", func(d *Delegation) { d.Signature = "0x" }},
		{"bad enforcer", func(d *Delegation) { d.Caveats[0].Enforcer = "nope" }},
		{"bad terms", func(d *Delegation) { d.Caveats[0].Terms = "0xzz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := flatDelegation()
			tt.modify(&d)
			_, err := Normalize(d)
			if !errors.Is(err, domain.ErrEncoding) {
				t.Fatalf("expected ErrEncoding, got %v", err)
			}
		})
	}
}

func TestNormalizeIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize(normalize(d)) == normalize(d)", prop.ForAll(
		func(salt uint64, caveats int, wrapped bool, sig []uint8) bool {
			d := flatDelegation()
			d.Salt = Quantity(fmt.Sprint(salt))
			d.Signature = "0x" + common.Bytes2Hex(append([]byte{0x01}, sig...))
			d.Caveats = nil
			for i := 0; i < caveats; i++ {
				d.Caveats = append(d.Caveats, Caveat{Enforcer: enforcerAddr, Terms: fmt.Sprintf("0x%02x", i)})
			}
			if wrapped {
				inner := d
				inner.Signature = ""
				d = Delegation{Message: &inner, Signature: d.Signature}
			}

			once, err := Normalize(d)
			if err != nil {
				return false
			}
			twice, err := Normalize(once)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(once, twice)
		},
		gen.UInt64(),
		gen.IntRange(0, 4),
		gen.Bool(),
		gen.SliceOfN(64, gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestQuantityUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{`123`, 123},
		{`"123"`, 123},
		{`"0x10"`, 16},
	}
	for _, tt := range tests {
		var q Quantity
		if err := json.Unmarshal([]byte(tt.in), &q); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		n, err := q.Big()
		if err != nil {
			t.Fatalf("Big(%s): %v", tt.in, err)
		}
		if n.Int64() != tt.want {
			t.Fatalf("Big(%s) = %s, want %d", tt.in, n, tt.want)
		}
	}
}

func TestQuantityBigBase(t *testing.T) {
	tests := []struct {
		in      Quantity
		want    int64
		wantErr bool
	}{
		{in: "010", want: 10},
		{in: "0777", want: 777},
		{in: "0x1f", want: 31},
		{in: "0X1F", want: 31},
		{in: " 42 ", want: 42},
		{in: "0", want: 0},
		{in: "1_000", wantErr: true},
		{in: "0x1_0", wantErr: true},
		{in: "0b101", wantErr: true},
		{in: "0o17", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "+1", wantErr: true},
		{in: "0x-1", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		n, err := tt.in.Big()
		if tt.wantErr {
			if err == nil {
				t.Errorf("Big(%q) = %s, want error", tt.in, n)
			}
			continue
		}
		if err != nil {
			t.Errorf("Big(%q): %v", tt.in, err)
			continue
		}
		if n.Int64() != tt.want {
			t.Errorf("Big(%q) = %s, want %d", tt.in, n, tt.want)
		}
	}
}

func TestEncodeSingleExecution(t *testing.T) {
	call := []byte{0xaa, 0xbb}
	got, err := EncodeSingleExecution(Execution{Target: common.HexToAddress(targetAddr), Value: big.NewInt(5), CallData: call})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20+32+2 {
		t.Fatalf("unexpected length %d", len(got))
	}
	if common.BytesToAddress(got[:20]) != common.HexToAddress(targetAddr) {
		t.Fatal("target must lead the packed execution")
	}
	if new(big.Int).SetBytes(got[20:52]).Int64() != 5 {
		t.Fatal("value must follow the target")
	}
	if got[52] != 0xaa || got[53] != 0xbb {
		t.Fatal("calldata must trail")
	}
}

func TestEncodeSingleExecutionRequiresTarget(t *testing.T) {
	_, err := EncodeSingleExecution(Execution{})
	if !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

func TestEncodeRedeem(t *testing.T) {
	exec := Execution{Target: common.HexToAddress(targetAddr), CallData: []byte{0x01, 0x02, 0x03, 0x04}}
	data, err := EncodeRedeem([]Delegation{flatDelegation()}, exec)
	if err != nil {
		t.Fatalf("EncodeRedeem: %v", err)
	}

	selector := crypto.Keccak256([]byte("redeemDelegations(bytes[],bytes32[],bytes[])"))[:4]
	if !reflect.DeepEqual(data[:4], selector) {
		t.Fatalf("selector %x, want %x", data[:4], selector)
	}

	method := managerABI.Methods["redeemDelegations"]
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	contexts := vals[0].([][]byte)
	modes := vals[1].([][32]byte)
	calls := vals[2].([][]byte)
	if len(contexts) != 1 || len(modes) != 1 || len(calls) != 1 {
		t.Fatalf("expected one redemption, got %d/%d/%d", len(contexts), len(modes), len(calls))
	}
	if modes[0] != [32]byte(SingleDefaultMode) {
		t.Fatalf("expected single default mode, got %x", modes[0])
	}
	want, _ := EncodeSingleExecution(exec)
	if !reflect.DeepEqual(calls[0], want) {
		t.Fatal("execution calldata mismatch")
	}

	decoded, err := delegationsArgs.Unpack(contexts[0])
	if err != nil {
		t.Fatalf("unpack permission context: %v", err)
	}
	chain := reflect.ValueOf(decoded[0])
	if chain.Len() != 1 {
		t.Fatalf("expected one delegation, got %d", chain.Len())
	}
	if got := chain.Index(0).FieldByName("Delegator").Interface().(common.Address); got != common.HexToAddress(delegatorAddr) {
		t.Fatalf("delegator %s", got.Hex())
	}
}

func TestEncodeRedeemWrappedMatchesFlat(t *testing.T) {
	flat := flatDelegation()
	inner := flat
	inner.Signature = ""
	wrapped := Delegation{Message: &inner, Signature: flat.Signature}

	exec := Execution{Target: common.HexToAddress(targetAddr)}
	a, err := EncodeRedeem([]Delegation{flat}, exec)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeRedeem([]Delegation{wrapped}, exec)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("wrapped and flat delegations must encode identically")
	}
}

func TestEncodeRedeemErrors(t *testing.T) {
	exec := Execution{Target: common.HexToAddress(targetAddr)}
	if _, err := EncodeRedeem(nil, exec); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for empty chain, got %v", err)
	}
	bad := flatDelegation()
	bad.Signature = ""
	if _, err := EncodeRedeem([]Delegation{bad}, exec); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for unsigned delegation, got %v", err)
	}
	if _, err := EncodeRedeem([]Delegation{flatDelegation()}, Execution{}); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding for missing target, got %v", err)
	}
}

func TestEncodeBatchExecution(t *testing.T) {
	data, err := EncodeBatchExecution([]Execution{
		{Target: common.HexToAddress(targetAddr), CallData: []byte{0x01}},
		{Target: common.HexToAddress(delegateAddr), Value: big.NewInt(1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	vals, err := executionsArgs.Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.ValueOf(vals[0]).Len() != 2 {
		t.Fatal("expected two executions")
	}
}
