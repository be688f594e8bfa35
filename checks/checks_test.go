package checks

import "testing"

func TestIsInFrame(t *testing.T) {
	if !IsInFrame("ATGGCC") {
		t.Error("expected length-6 sequence to be in frame")
	}
	if IsInFrame("ATGGC") {
		t.Error("did not expect length-5 sequence to be in frame")
	}
}

func TestIsFunctional(t *testing.T) {
	if !IsFunctional("ATGGCC") {
		t.Error("expected ATGGCC to be functional")
	}
	if IsFunctional("ATGTGA") {
		t.Error("did not expect a sequence with a premature stop to be functional")
	}
	if IsFunctional("ATGGC") {
		t.Error("did not expect an out-of-frame sequence to be functional")
	}
}
