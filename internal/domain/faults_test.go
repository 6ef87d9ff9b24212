package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "transient", err: TransientErr(errors.New("conn reset")), want: KindTransient},
		{name: "permanent", err: PermanentErr(errors.New("no such key")), want: KindPermanent},
		{name: "schema", err: Schemaf("column count mismatch"), want: KindSchemaMismatch},
		{name: "integrity", err: IntegrityErr(errors.New("bad auth tag")), want: KindIntegrity},
		{name: "config", err: Configf("bucket is required"), want: KindConfig},
		{name: "unclassified defaults to transient", err: errors.New("boom"), want: KindTransient},
		{name: "classified through wrapping", err: fmt.Errorf("read unit: %w", PermanentErr(errors.New("gone"))), want: KindPermanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf()=%s, want %s", got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("unclassified")) {
		t.Fatalf("unclassified errors must stay retryable")
	}
	if !IsRetryable(Transientf("timeout")) {
		t.Fatalf("transient errors must be retryable")
	}
	for _, err := range []error{
		Permanentf("denied"),
		Schemaf("mismatch"),
		Integrityf("tampered"),
		Configf("missing dsn"),
	} {
		if IsRetryable(err) {
			t.Fatalf("%v must not be retryable", err)
		}
	}
}

func TestFaultConstructorsNil(t *testing.T) {
	for _, err := range []error{
		TransientErr(nil), PermanentErr(nil), SchemaErr(nil), IntegrityErr(nil), ConfigErr(nil),
	} {
		if err != nil {
			t.Fatalf("wrapping nil must return nil, got %v", err)
		}
	}
}

func TestFaultUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := PermanentErr(sentinel)
	if !errors.Is(err, sentinel) {
		t.Fatalf("fault must unwrap to the original error")
	}
	if got := err.Error(); got != "permanent: sentinel" {
		t.Fatalf("Error()=%q", got)
	}
}
