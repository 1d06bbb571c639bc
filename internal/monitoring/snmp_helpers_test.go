package monitoring

import (
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/extkljajicm/branchwatch/internal/store"
)

func TestIfIndexFromOID(t *testing.T) {
	cases := []struct {
		oid  string
		base string
		want int
	}{
		{".1.3.6.1.2.1.2.2.1.8.1", oidIfOperStatus, 1},
		{"1.3.6.1.2.1.2.2.1.8.42", oidIfOperStatus, 42},
	}
	for _, c := range cases {
		got, err := ifIndexFromOID(c.oid, c.base)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", c.oid, err)
		}
		if got != c.want {
			t.Errorf("ifIndexFromOID(%q) = %d, want %d", c.oid, got, c.want)
		}
	}

	if _, err := ifIndexFromOID("1.2.3", oidIfOperStatus); err == nil {
		t.Error("expected error for oid not under base")
	}
}

func TestOperStatusFromInt(t *testing.T) {
	if operStatusFromInt(1) != store.OperStatusUp {
		t.Error("1 should map to up")
	}
	if operStatusFromInt(2) != store.OperStatusDown {
		t.Error("2 should map to down")
	}
	if operStatusFromInt(99) != store.OperStatusUnknown {
		t.Error("unrecognized value should map to unknown")
	}
}

func TestSanitizeSNMPStringStripsControlAndTruncates(t *testing.T) {
	withNulls := "cisco\x00router\x00"
	if got := sanitizeSNMPString(withNulls); got != "ciscorouter" {
		t.Errorf("got %q", got)
	}

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	if got := sanitizeSNMPString(string(long)); len(got) != 1024 {
		t.Errorf("expected truncation to 1024, got %d", len(got))
	}

	if got := sanitizeSNMPString("  tab\there  "); got != "tab here" {
		t.Errorf("got %q", got)
	}
}

func TestAuthAndPrivProtocolMapping(t *testing.T) {
	if authProtocolFromString("sha256") != gosnmp.SHA256 {
		t.Error("sha256 should map to gosnmp.SHA256")
	}
	if authProtocolFromString("bogus") != gosnmp.NoAuth {
		t.Error("unrecognized auth protocol should map to NoAuth")
	}
	if privProtocolFromString("aes256") != gosnmp.AES256 {
		t.Error("aes256 should map to gosnmp.AES256")
	}
	if securityLevelFromString("authPriv") != gosnmp.AuthPriv {
		t.Error("authPriv should map to gosnmp.AuthPriv")
	}
}

func TestSNMPCircuitBreakerTripsAfterMaxFails(t *testing.T) {
	b := newSNMPCircuitBreaker()
	ip := "10.0.0.1"

	tripped := false
	for i := 0; i < 3; i++ {
		tripped = b.reportFail(ip, 3, time.Minute)
	}
	if !tripped {
		t.Fatal("expected breaker to trip on the 3rd failure")
	}
	if !b.isSuspended(ip) {
		t.Error("device should be suspended immediately after tripping")
	}
}

func TestSNMPCircuitBreakerResetsOnSuccess(t *testing.T) {
	b := newSNMPCircuitBreaker()
	ip := "10.0.0.2"
	b.reportFail(ip, 5, time.Minute)
	b.reportFail(ip, 5, time.Minute)
	b.reportSuccess(ip)
	if tripped := b.reportFail(ip, 3, time.Minute); tripped {
		t.Error("failure count should have reset after a success")
	}
}

func TestSNMPCircuitBreakerClearsAfterBackoffExpires(t *testing.T) {
	b := newSNMPCircuitBreaker()
	ip := "10.0.0.3"
	b.reportFail(ip, 1, 10*time.Millisecond)
	if !b.isSuspended(ip) {
		t.Fatal("expected immediate suspension")
	}
	time.Sleep(20 * time.Millisecond)
	if b.isSuspended(ip) {
		t.Error("suspension should have expired")
	}
}
