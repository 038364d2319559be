package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/meross-core/internal/merr"
)

// Week day bits as used by timer and trigger rules. Bit 7 marks a repeating
// rule; without it the rule fires once and disarms.
const (
	WeekMonday    = 1 << 0
	WeekTuesday   = 1 << 1
	WeekWednesday = 1 << 2
	WeekThursday  = 1 << 3
	WeekFriday    = 1 << 4
	WeekSaturday  = 1 << 5
	WeekSunday    = 1 << 6
	WeekRepeat    = 1 << 7
)

// weekDays orders the day bits for mask decoding.
var weekDays = []struct {
	name string
	bit  int
}{
	{"monday", WeekMonday},
	{"tuesday", WeekTuesday},
	{"wednesday", WeekWednesday},
	{"thursday", WeekThursday},
	{"friday", WeekFriday},
	{"saturday", WeekSaturday},
	{"sunday", WeekSunday},
}

// RGB is one color in 8 bit per channel form.
type RGB struct {
	R, G, B uint8
}

// TimeToMinutes converts a wall clock "HH:MM" string to minutes after
// midnight, the unit device schedules use.
func TimeToMinutes(clock string) (int, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return 0, merr.Validation("time", fmt.Sprintf("%q is not in HH:MM form", clock))
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, merr.Validation("time", fmt.Sprintf("%q is not in HH:MM form", clock))
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, merr.Validation("time", fmt.Sprintf("%q is not in HH:MM form", clock))
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, merr.Validation("time", fmt.Sprintf("%q is outside 00:00-23:59", clock))
	}
	return hour*60 + minute, nil
}

// MinutesToTime converts minutes after midnight back to "HH:MM".
func MinutesToTime(minutes int) (string, error) {
	if minutes < 0 || minutes > 1439 {
		return "", merr.Validation("minutes", fmt.Sprintf("%d is outside 0-1439", minutes))
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60), nil
}

// DaysToWeekMask folds a list of day names into a schedule mask. Names are
// case insensitive and may be abbreviated to three letters.
func DaysToWeekMask(days []string, repeat bool) (int, error) {
	mask := 0
	if repeat {
		mask |= WeekRepeat
	}
	for _, day := range days {
		bit, err := dayBit(day)
		if err != nil {
			return 0, err
		}
		mask |= bit
	}
	return mask, nil
}

// WeekMaskToDays expands a schedule mask into day names in week order and
// whether the rule repeats.
func WeekMaskToDays(mask int) ([]string, bool) {
	var days []string
	for _, d := range weekDays {
		if mask&d.bit != 0 {
			days = append(days, d.name)
		}
	}
	return days, mask&WeekRepeat != 0
}

func dayBit(day string) (int, error) {
	name := strings.ToLower(strings.TrimSpace(day))
	for _, d := range weekDays {
		if name == d.name || (len(name) == 3 && strings.HasPrefix(d.name, name)) {
			return d.bit, nil
		}
	}
	return 0, merr.Validation("days", fmt.Sprintf("%q is not a week day", day))
}

// RGBToInt packs a color into the single integer form light payloads carry.
func RGBToInt(c RGB) int {
	return int(c.R)<<16 | int(c.G)<<8 | int(c.B)
}

// IntToRGB unpacks the wire integer form of a color.
func IntToRGB(v int) RGB {
	v &= 0xFFFFFF
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8 & 0xFF), B: uint8(v & 0xFF)}
}

// TenthsToDegrees converts a device temperature, reported in tenths of a
// degree Celsius, to degrees.
func TenthsToDegrees(tenths int) float64 {
	return float64(tenths) / 10
}

// DegreesToTenths converts degrees Celsius to the tenths form devices expect.
func DegreesToTenths(degrees float64) int {
	return int(math.Round(degrees * 10))
}
