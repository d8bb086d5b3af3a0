package eid_test

import (
	"testing"

	"github.com/dtnx/bpd/eid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		scheme  eid.Scheme
		node    uint64
		service uint64
		bad     bool
	}{
		{in: "dtn:none", scheme: eid.SchemeDTN},
		{in: "ipn:7.0", scheme: eid.SchemeIPN, node: 7, service: 0},
		{in: "ipn:20.12", scheme: eid.SchemeIPN, node: 20, service: 12},
		{in: "imc:5.1", scheme: eid.SchemeIMC, node: 5, service: 1},
		{in: "http://example.org/x", scheme: eid.SchemeGeneric},
		{in: "ipn:notanumber.0", bad: true},
		{in: "ipn:7", bad: true},
		{in: "noscheme", bad: true},
	}
	for _, tt := range tests {
		got, err := eid.Parse(tt.in)
		if tt.bad {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tt.in, err)
		}
		if got.Scheme != tt.scheme || got.Node != tt.node || got.Service != tt.service {
			t.Errorf("Parse(%q) = %+v, want scheme=%v node=%d service=%d",
				tt.in, got, tt.scheme, tt.node, tt.service)
		}
	}
}

func TestSingleton(t *testing.T) {
	ipn := eid.IPN(7, 0)
	if !ipn.Singleton(false) {
		t.Error("ipn endpoint should always be singleton")
	}
	imc := eid.IMC(5, 1)
	if imc.Singleton(true) {
		t.Error("imc endpoint should never be singleton")
	}
	generic := eid.MustParse("http://example.org/x")
	if !generic.Singleton(true) {
		t.Error("generic scheme should defer to configured default")
	}
	if generic.Singleton(false) {
		t.Error("generic scheme should defer to configured default")
	}
}

func TestNone(t *testing.T) {
	if !eid.None.IsNone() {
		t.Error("None should report IsNone")
	}
	if eid.IPN(7, 0).IsNone() {
		t.Error("ipn:7.0 should not report IsNone")
	}
}

func TestSameNode(t *testing.T) {
	a := eid.IPN(7, 0)
	b := eid.IPN(7, 2003)
	if !a.SameNode(b) {
		t.Error("ipn endpoints with the same node number should match regardless of service")
	}
	c := eid.IPN(8, 0)
	if a.SameNode(c) {
		t.Error("ipn endpoints with different node numbers should not match")
	}
}
