package schedule

import (
	"testing"
	"time"
)

func TestNextClassDate(t *testing.T) {
	friday := monday.AddDays(4)
	saturday := monday.AddDays(5)

	tests := []struct {
		name       string
		current    Date
		pattern    Pattern
		customDays []time.Weekday
		want       Date
		wantErr    bool
	}{
		{name: "weekdays: Tuesday to Wednesday", current: monday.AddDays(1), pattern: PatternWeekdays, want: monday.AddDays(2)},
		{name: "weekdays: Friday to Monday", current: friday, pattern: PatternWeekdays, want: monday.AddDays(7)},
		{name: "weekdays: Saturday to Monday", current: saturday, pattern: PatternWeekdays, want: monday.AddDays(7)},
		{name: "custom: Monday to Thursday", current: monday, pattern: PatternCustom, customDays: []time.Weekday{time.Monday, time.Thursday}, want: monday.AddDays(3)},
		{name: "custom: Thursday to next Monday", current: monday.AddDays(3), pattern: PatternCustom, customDays: []time.Weekday{time.Thursday, time.Monday}, want: monday.AddDays(7)},
		{name: "custom: same weekday a week later", current: monday, pattern: PatternCustom, customDays: []time.Weekday{time.Monday}, want: monday.AddDays(7)},
		{name: "custom: weekend day", current: friday, pattern: PatternCustom, customDays: []time.Weekday{time.Saturday}, want: saturday},
		{name: "custom without days", current: monday, pattern: PatternCustom, wantErr: true},
		{name: "unknown pattern", current: monday, pattern: "monthly", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextClassDate(tt.current, tt.pattern, tt.customDays)
			if (err != nil) != tt.wantErr {
				t.Errorf("NextClassDate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !got.Equal(tt.want.Time) {
				t.Errorf("NextClassDate() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchedule_CustomWeekdays(t *testing.T) {
	s := Schedule{CustomDays: []string{"monday", "Thursday", "nope"}}
	got := s.CustomWeekdays()
	if len(got) != 2 || got[0] != time.Monday || got[1] != time.Thursday {
		t.Errorf("CustomWeekdays() got = %v", got)
	}
}
