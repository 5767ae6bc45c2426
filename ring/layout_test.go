package ring

import "testing"

func TestInitSizeRejectsOutOfRangeShifts(t *testing.T) {
	if _, err := InitSize(MinDescriptorsShift-1, MinPayloadBufShift, 0); err == nil {
		t.Fatal("expected error for descriptors shift below minimum")
	}
	if _, err := InitSize(MinDescriptorsShift, MaxPayloadBufShift+1, 0); err == nil {
		t.Fatal("expected error for payload buf shift above maximum")
	}
}

func TestLayoutOffsetsAreAligned(t *testing.T) {
	size, err := InitSize(MinDescriptorsShift, MinPayloadBufShift, 2)
	if err != nil {
		t.Fatal(err)
	}
	lay := size.layout()

	if lay.payloadOffset%LargePageSize != 0 {
		t.Errorf("payload offset %d not large-page aligned", lay.payloadOffset)
	}
	if lay.contextOffset%LargePageSize != 0 {
		t.Errorf("context offset %d not large-page aligned", lay.contextOffset)
	}
	if lay.descriptorsOffset%pageAlign != 0 {
		t.Errorf("descriptor offset %d not page aligned", lay.descriptorsOffset)
	}
	want := lay.contextOffset + 2*LargePageSize
	if lay.total != want {
		t.Errorf("total = %d, want %d", lay.total, want)
	}
}
