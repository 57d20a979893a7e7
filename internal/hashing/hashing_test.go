package hashing

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	lerrors "github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

func TestPipelineVectors(t *testing.T) {
	header := make([]byte, 80)

	tests := []struct {
		name  string
		fn    HashFunc
		input []byte
		want  string
	}{
		{"sha256d empty", DoubleSHA256, nil, "5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456"},
		{"sha256d abc", DoubleSHA256, []byte("abc"), "4f8b42c22dd3729b519ba6f68d2da7cc5b2d606d05daed5ad5128cc03e6c6358"},
		{"sha256lif empty", SumLif, nil, "b4e21355889e0c37b5039516b607b40d11c5cc4ee2f662f3e9c91fd00339e63b"},
		{"sha256lif abc", SumLif, []byte("abc"), "19911290ba979a30604ea92f0ba8cac1342dafdfcc75db767330bd703022f66b"},
		{"sha256lif hello", SumLif, []byte("hello world"), "f9836c02ced2563b7575da1244603eb628ec18b98d781eda42a24258f22ae4b0"},
		{"sha256lif header", SumLif, header, "6a06d2d92bb71fb06d248099f2ac7bd8dedaa28bb8f6968abe054ed2c1cae69d"},
		{"hash256lif empty", Hash256LifSum, nil, "a13532807ba7685e324192e7ddd488301ecf203e327e6c28a9a1195eda0101e1"},
		{"hash256lif abc", Hash256LifSum, []byte("abc"), "bc66811b2c996f6becb25febe3f52e42ba6e5a641339cd3842bf869e7a1836d3"},
		{"hash256lif header", Hash256LifSum, header, "2ee2b3f2875ecb6d04bff30fa3c3c60b23c43b6dcccf06dc7e5f594b6e2cb4e5"},
		{"branchy empty", SumBranchy, nil, "7320e322f10d3a65b42f755d54fbe562cfb196c9321aaf4220a3554e46702f05"},
		{"branchy abc", SumBranchy, []byte("abc"), "910e01cd071998fa46a5834af4c3cdf6b7b9c7414005ca1cdf03742a0ca1d78c"},
		{"branchy hello", SumBranchy, []byte("hello world"), "5523b0f9dcc24545e2d3a3ac6829dd233b369cb189845f51e3ab8edad7f671d1"},
		{"branchy header", SumBranchy, header, "5c881b84b93eecdd7628fa3b7f8cceae0dc73630e44e2e64acff7af5958c4865"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.input)
			if hex.EncodeToString(got[:]) != tt.want {
				t.Errorf("digest = %x, want %s", got[:], tt.want)
			}
		})
	}
}

func TestDoubleSHA256MatchesChainhash(t *testing.T) {
	for _, n := range []int{0, 1, 55, 56, 63, 64, 80, 119, 120, 200} {
		data := bytes.Repeat([]byte{byte(n)}, n)
		if got, want := DoubleSHA256(data), chainhash.DoubleHashH(data); got != want {
			t.Errorf("len %d: DoubleSHA256 = %s, want %s", n, got, want)
		}
	}
}

func TestPipelinesDeterministic(t *testing.T) {
	input := []byte(strings.Repeat("lif", 40))
	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s) error = %v", name, err)
		}
		first := p.Func(input)
		for range 5 {
			if got := p.Func(input); got != first {
				t.Errorf("%s is not deterministic: %s != %s", name, got, first)
			}
		}
	}
}

func TestPipelinesDiffer(t *testing.T) {
	input := make([]byte, 80)
	seen := make(map[chainhash.Hash]Name)
	for _, name := range Names() {
		p, _ := Lookup(name)
		d := p.Func(input)
		if other, dup := seen[d]; dup {
			t.Errorf("%s and %s produce the same digest", name, other)
		}
		seen[d] = name
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("scrypt")
	if err == nil {
		t.Fatal("expected error for unknown pipeline")
	}
	if !lerrors.IsType(err, lerrors.ErrorTypeContract) {
		t.Errorf("error type = %v, want contract", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(log.Nop())

	if err := r.Bind("main", SHA256d, false); err != nil {
		t.Fatalf("Bind(main) error = %v", err)
	}
	if err := r.Bind("lif", Hash256Lif, false); err != nil {
		t.Fatalf("Bind(lif) error = %v", err)
	}

	fn, err := r.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve(main) error = %v", err)
	}
	if fn([]byte("abc")) != DoubleSHA256([]byte("abc")) {
		t.Error("Resolve(main) returned the wrong pipeline")
	}

	fn, err = r.Resolve("lif")
	if err != nil {
		t.Fatalf("Resolve(lif) error = %v", err)
	}
	if fn([]byte("abc")) != Hash256LifSum([]byte("abc")) {
		t.Error("Resolve(lif) returned the wrong pipeline")
	}

	if got := r.Networks(); len(got) != 2 || got[0] != "lif" || got[1] != "main" {
		t.Errorf("Networks() = %v", got)
	}
}

func TestRegistryUnknownNetwork(t *testing.T) {
	r := NewRegistry(log.Nop())

	_, err := r.Resolve("nowhere")
	if !errors.Is(err, ErrUnknownNetwork) {
		t.Errorf("Resolve() error = %v, want ErrUnknownNetwork", err)
	}
	if lerrors.IsRetryable(err) {
		t.Error("unknown network must not be retryable")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustResolve should panic for an unknown network")
		}
	}()
	r.MustResolve("nowhere")
}

func TestRegistryBindRules(t *testing.T) {
	r := NewRegistry(log.Nop())

	if err := r.Bind("lifexp", Branchy, false); !lerrors.IsType(err, lerrors.ErrorTypeConfiguration) {
		t.Errorf("binding a weak pipeline without opt-in: error = %v", err)
	}
	if err := r.Bind("main", SHA256d, false); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := r.Bind("main", SHA256Lif, false); err == nil {
		t.Error("expected error when rebinding a network")
	}
	if err := r.Bind("x", Name("bogus"), true); err == nil {
		t.Error("expected error for unknown pipeline")
	}
}

func TestRegistryWeakPipelineWarns(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(log.NewWithWriter(&buf, "test", "dev", "warn", "json"))

	if err := r.Bind("lifexp", Branchy, true); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	buf.Reset()

	if _, err := r.Resolve("lifexp"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"weak_primitive":true`) {
		t.Errorf("expected weak primitive warning, got %q", out)
	}

	buf.Reset()
	if err := r.Bind("main", SHA256d, false); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := r.Resolve("main"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output for vetted pipeline: %q", buf.String())
	}
}

func BenchmarkPipelines(b *testing.B) {
	header := make([]byte, 80)
	for _, name := range Names() {
		p, _ := Lookup(name)
		b.Run(string(name), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				p.Func(header)
			}
		})
	}
}
