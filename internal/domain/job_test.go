package domain

import "testing"

func TestItemErrors_ValueScan(t *testing.T) {
	var empty ItemErrors
	if v, err := empty.Value(); v != nil || err != nil {
		t.Errorf("empty Value() = %v, %v; want nil", v, err)
	}

	in := ItemErrors{{Item: "r-1", Error: "validation failed: name is required"}}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var out ItemErrors
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan(string) error = %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Errorf("Scan() = %+v", out)
	}
	if err := out.Scan([]byte(`[]`)); err != nil || len(out) != 0 {
		t.Errorf("Scan([]byte) = %+v, %v", out, err)
	}
	if err := out.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestBatchStatus_Terminal(t *testing.T) {
	tests := []struct {
		status BatchStatus
		want   bool
	}{
		{BatchStatusPending, false},
		{BatchStatusInProgress, false},
		{BatchStatusCompleted, true},
		{BatchStatusCompletedWithErrors, true},
		{BatchStatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestJobType_Valid(t *testing.T) {
	if !JobTypeRestaurant.Valid() || !JobTypeDish.Valid() || JobType("MENU").Valid() {
		t.Error("JobType.Valid() mismatch")
	}
	if !CategoryPlanToVisit.Valid() || RankingCategory("FAVORITE").Valid() {
		t.Error("RankingCategory.Valid() mismatch")
	}
}

func TestJSONMap_ValueScan(t *testing.T) {
	var nilMap JSONMap
	if v, _ := nilMap.Value(); v != "{}" {
		t.Errorf("nil Value() = %v, want {}", v)
	}

	var m JSONMap
	if err := m.Scan(`{"restaurantId":"r-1","rank":2}`); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if m["restaurantId"] != "r-1" || m["rank"] != float64(2) {
		t.Errorf("Scan() = %v", m)
	}
	if err := m.Scan(nil); err != nil || len(m) != 0 {
		t.Errorf("Scan(nil) = %v, %v", m, err)
	}
}
