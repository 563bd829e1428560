package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

// 2026-08-24 is a Monday.
func mondayAt(hour, min int) time.Time {
	return time.Date(2026, time.August, 24, hour, min, 0, 0, time.UTC)
}

func officeHours() *repository.Settings {
	return &repository.Settings{
		WorkdayStartMin: 8 * 60,  // 08:00
		WorkdayEndMin:   17 * 60, // 17:00
		WorkdayMask:     repository.DefaultWorkdayMask,
	}
}

func TestBusinessMinutesBetween(t *testing.T) {
	st := officeHours()

	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{
			name: "same day within window",
			from: mondayAt(9, 0),
			to:   mondayAt(11, 30),
			want: 150,
		},
		{
			name: "clock starts at window open when created before hours",
			from: mondayAt(6, 0),
			to:   mondayAt(9, 0),
			want: 60,
		},
		{
			name: "clock stops at window close",
			from: mondayAt(16, 0),
			to:   mondayAt(19, 0),
			want: 60,
		},
		{
			name: "created after hours counts from next workday open",
			from: mondayAt(17, 30),
			to:   mondayAt(17, 30).AddDate(0, 0, 1).Add(-9 * time.Hour), // Tue 08:30
			want: 30,
		},
		{
			name: "spans two full workdays",
			from: mondayAt(16, 50),
			to:   mondayAt(16, 50).AddDate(0, 0, 2), // Wed 16:50
			want: 10 + 540 + 530,
		},
		{
			name: "weekend contributes nothing",
			from: time.Date(2026, time.August, 28, 16, 0, 0, 0, time.UTC), // Fri 16:00
			to:   time.Date(2026, time.August, 31, 9, 0, 0, 0, time.UTC),  // Mon 09:00
			want: 120,
		},
		{
			name: "entirely inside a weekend",
			from: time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC), // Sat
			to:   time.Date(2026, time.August, 30, 15, 0, 0, 0, time.UTC), // Sun
			want: 0,
		},
		{
			name: "to before from",
			from: mondayAt(12, 0),
			to:   mondayAt(9, 0),
			want: 0,
		},
		{
			name: "zero interval",
			from: mondayAt(12, 0),
			to:   mondayAt(12, 0),
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, businessMinutesBetween(tc.from, tc.to, st))
		})
	}
}

// A level opened ten minutes before close of business must accrue nearly a
// full workday of SLA time per elapsed workday, not wall-clock time.
func TestBusinessMinutesBreachMath(t *testing.T) {
	st := officeHours()
	st.SLAManager = 360

	pendingSince := mondayAt(16, 50)
	now := pendingSince.AddDate(0, 0, 2) // Wednesday 16:50

	elapsed := businessMinutesBetween(pendingSince, now, st)
	assert.Equal(t, 1080, elapsed)

	sla := st.SLAForRole(repository.RoleManager)
	assert.Greater(t, elapsed, sla)
	assert.Equal(t, 720, elapsed-sla)
}

func TestSettingsSLAForRole(t *testing.T) {
	st := &repository.Settings{
		SLASupervisor: 240,
		SLAManager:    360,
		SLAFinance:    240,
	}

	assert.Equal(t, 240, st.SLAForRole(repository.RoleSupervisor))
	assert.Equal(t, 360, st.SLAForRole(repository.RoleManager))
	assert.Equal(t, 240, st.SLAForRole(repository.RoleFinance))
	assert.Equal(t, 360, st.SLAForRole(repository.RoleAdmin), "admin falls back to manager SLA")

	st.SLAAdmin = 480
	assert.Equal(t, 480, st.SLAForRole(repository.RoleAdmin))
}

func TestSettingsIsWorkday(t *testing.T) {
	st := officeHours()

	assert.True(t, st.IsWorkday(mondayAt(12, 0)))
	assert.True(t, st.IsWorkday(mondayAt(12, 0).AddDate(0, 0, 4))) // Friday
	assert.False(t, st.IsWorkday(mondayAt(12, 0).AddDate(0, 0, 5))) // Saturday
	assert.False(t, st.IsWorkday(mondayAt(12, 0).AddDate(0, 0, 6))) // Sunday

	// Zero mask falls back to Monday-Friday.
	st.WorkdayMask = 0
	assert.True(t, st.IsWorkday(mondayAt(12, 0)))
	assert.False(t, st.IsWorkday(mondayAt(12, 0).AddDate(0, 0, 5)))

	// Saturday can be opted in.
	st.WorkdayMask = repository.DefaultWorkdayMask | 1<<time.Saturday
	assert.True(t, st.IsWorkday(mondayAt(12, 0).AddDate(0, 0, 5)))
}
