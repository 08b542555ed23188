package fault

import (
	"errors"
	"fmt"
	"testing"
)

var errSample = errors.New("sample")

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnknown, "UNKNOWN"},
		{KindConfiguration, "CONFIGURATION"},
		{KindProtocol, "PROTOCOL"},
		{KindTransientTransport, "TRANSIENT_TRANSPORT"},
		{KindPolicyRejection, "POLICY_REJECTION"},
		{Kind(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructorsClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"configuration", Configuration("op", errSample), KindConfiguration},
		{"protocol", Protocol("op", errSample), KindProtocol},
		{"transient", Transient("op", errSample), KindTransientTransport},
		{"policy", Policy("op", errSample), KindPolicyRejection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
			if !errors.Is(tt.err, errSample) {
				t.Error("classified error should unwrap to the sentinel")
			}
			if !Is(tt.err, tt.want) {
				t.Errorf("Is(%v) = false", tt.want)
			}
		})
	}
}

func TestNewNil(t *testing.T) {
	if err := Protocol("op", nil); err != nil {
		t.Errorf("Protocol(nil) = %v, want nil", err)
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("subscribe: %w", Policy("rotate", errSample))

	if KindOf(err) != KindPolicyRejection {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindPolicyRejection)
	}
	if KindOf(errSample) != KindUnknown {
		t.Error("unclassified error should be KindUnknown")
	}
	if Is(nil, KindUnknown) {
		t.Error("Is(nil) should be false")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Configuration("schedule.New", errSample)
	if got, want := err.Error(), "CONFIGURATION: schedule.New: sample"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = New(KindProtocol, "", errSample)
	if got, want := err.Error(), "PROTOCOL: sample"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
