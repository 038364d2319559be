package features

import (
	"testing"

	"github.com/nerrad567/meross-core/internal/merr"
)

func TestTimeToMinutes(t *testing.T) {
	cases := []struct {
		clock string
		want  int
	}{
		{"00:00", 0},
		{"14:30", 870},
		{"23:59", 1439},
		{"7:05", 425},
	}
	for _, tc := range cases {
		got, err := TimeToMinutes(tc.clock)
		if err != nil {
			t.Fatalf("TimeToMinutes(%q): %v", tc.clock, err)
		}
		if got != tc.want {
			t.Errorf("TimeToMinutes(%q) = %d, want %d", tc.clock, got, tc.want)
		}
	}
}

func TestTimeToMinutesRejectsGarbage(t *testing.T) {
	for _, clock := range []string{"24:00", "12:60", "-1:30", "870", "xx:30", "14:30:00", ""} {
		if _, err := TimeToMinutes(clock); !merr.IsKind(err, merr.KindValidation) {
			t.Errorf("TimeToMinutes(%q): expected validation error, got %v", clock, err)
		}
	}
}

func TestMinutesToTime(t *testing.T) {
	cases := []struct {
		minutes int
		want    string
	}{
		{0, "00:00"},
		{870, "14:30"},
		{1439, "23:59"},
	}
	for _, tc := range cases {
		got, err := MinutesToTime(tc.minutes)
		if err != nil {
			t.Fatalf("MinutesToTime(%d): %v", tc.minutes, err)
		}
		if got != tc.want {
			t.Errorf("MinutesToTime(%d) = %q, want %q", tc.minutes, got, tc.want)
		}
	}
	for _, minutes := range []int{-1, 1440} {
		if _, err := MinutesToTime(minutes); !merr.IsKind(err, merr.KindValidation) {
			t.Errorf("MinutesToTime(%d): expected validation error, got %v", minutes, err)
		}
	}
}

func TestDaysToWeekMask(t *testing.T) {
	mask, err := DaysToWeekMask([]string{"monday", "friday"}, true)
	if err != nil {
		t.Fatalf("DaysToWeekMask: %v", err)
	}
	if mask != 145 {
		t.Errorf("repeating monday+friday = %d, want 145", mask)
	}

	mask, err = DaysToWeekMask([]string{"monday", "friday"}, false)
	if err != nil {
		t.Fatalf("DaysToWeekMask: %v", err)
	}
	if mask != 17 {
		t.Errorf("one-shot monday+friday = %d, want 17", mask)
	}

	// Abbreviations and case fold to the same bits.
	mask, err = DaysToWeekMask([]string{"Mon", "FRI"}, false)
	if err != nil {
		t.Fatalf("DaysToWeekMask: %v", err)
	}
	if mask != 17 {
		t.Errorf("abbreviated monday+friday = %d, want 17", mask)
	}

	if _, err := DaysToWeekMask([]string{"moonday"}, false); !merr.IsKind(err, merr.KindValidation) {
		t.Errorf("expected validation error for bad day, got %v", err)
	}
}

func TestWeekMaskToDays(t *testing.T) {
	days, repeat := WeekMaskToDays(145)
	if !repeat {
		t.Error("mask 145 should repeat")
	}
	if len(days) != 2 || days[0] != "monday" || days[1] != "friday" {
		t.Errorf("mask 145 days = %v, want [monday friday]", days)
	}

	days, repeat = WeekMaskToDays(WeekSunday)
	if repeat {
		t.Error("mask 64 should not repeat")
	}
	if len(days) != 1 || days[0] != "sunday" {
		t.Errorf("mask 64 days = %v, want [sunday]", days)
	}
}

func TestRGBToInt(t *testing.T) {
	if got := RGBToInt(RGB{R: 255}); got != 16711680 {
		t.Errorf("red = %d, want 16711680", got)
	}
	if got := RGBToInt(RGB{R: 255, G: 255, B: 255}); got != 0xFFFFFF {
		t.Errorf("white = %d, want %d", got, 0xFFFFFF)
	}
}

func TestIntToRGB(t *testing.T) {
	if got := IntToRGB(65280); got != (RGB{G: 255}) {
		t.Errorf("IntToRGB(65280) = %+v, want pure green", got)
	}
	// High bits beyond 24 are discarded.
	if got := IntToRGB(0x1FF0000); got != (RGB{R: 255}) {
		t.Errorf("IntToRGB with stray high bits = %+v, want pure red", got)
	}
	for _, v := range []int{0, 0x123456, 0xFFFFFF} {
		if got := RGBToInt(IntToRGB(v)); got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
	}
}

func TestTemperatureScaling(t *testing.T) {
	if got := TenthsToDegrees(215); got != 21.5 {
		t.Errorf("TenthsToDegrees(215) = %v, want 21.5", got)
	}
	if got := DegreesToTenths(21.5); got != 215 {
		t.Errorf("DegreesToTenths(21.5) = %d, want 215", got)
	}
	if got := DegreesToTenths(21.46); got != 215 {
		t.Errorf("DegreesToTenths(21.46) = %d, want 215", got)
	}
}
