package discovery

import (
	"testing"

	"github.com/gosnmp/gosnmp"

	"github.com/extkljajicm/branchwatch/internal/store"
)

func gosnmpPDUWithValue(v interface{}) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Value: v}
}

func TestLastOIDSegment(t *testing.T) {
	got, err := lastOIDSegment(".1.3.6.1.2.1.2.2.1.8.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestIfStatusFromInt(t *testing.T) {
	if ifStatusFromInt(1) != store.OperStatusUp {
		t.Error("1 should map to up")
	}
	if ifStatusFromInt(2) != store.OperStatusDown {
		t.Error("2 should map to down")
	}
	if ifStatusFromInt(7) != store.OperStatusUnknown {
		t.Error("unrecognized value should map to unknown")
	}
}

func TestPduToStringTruncatesAndTrims(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := pduToString(gosnmpPDUWithValue(string(long)))
	if len(got) != 255 {
		t.Errorf("expected truncation to 255 chars, got %d", len(got))
	}

	if got := pduToString(gosnmpPDUWithValue("  eth0  ")); got != "eth0" {
		t.Errorf("expected trimmed value, got %q", got)
	}
}
