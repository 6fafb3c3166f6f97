package attendance

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountBelow(t *testing.T) {
	tallies := []Tally{
		{CourseID: 1, Present: 7, Total: 10}, // exactly at threshold
		{CourseID: 2, Present: 6, Total: 10},
		{CourseID: 3, Present: 0, Total: 0}, // no rows, ignored
		{CourseID: 4, Present: 0, Total: 1},
	}
	assert.Equal(t, 2, countBelow(tallies, 70))
}

func TestPercentageClampsTotal(t *testing.T) {
	assert.Equal(t, 0.0, percentage(0, 0))
	assert.Equal(t, 50.0, percentage(1, 2))
}

func TestAdminDashboard(t *testing.T) {
	f := newFixture(t)
	low := f.course("CS101")
	good := f.course("MA101")
	f.course("PH101") // no attendance at all

	f.now = f.now.AddDate(0, 0, -30)
	old, oldP := f.student("S001", nil)
	f.now = f.now.AddDate(0, 0, 30)
	fresh, freshP := f.student("S002", nil)

	for _, s := range []int64{old.ID, fresh.ID} {
		f.enroll(s, low.ID)
		f.enroll(s, good.ID)
	}
	_, err := f.svc.OpenSession(f.ctx, f.admin, low.ID, f.now)
	require.NoError(t, err)
	require.True(t, f.svc.CheckIn(f.ctx, oldP, low.ID).Success)
	require.True(t, f.svc.CheckIn(f.ctx, oldP, good.ID).Success)
	require.True(t, f.svc.CheckIn(f.ctx, freshP, good.ID).Success)

	d, err := f.svc.AdminDashboard(f.ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, AdminDashboard{
		TotalStudents:        2,
		TotalCourses:         3,
		LowAttendanceCourses: 1, // CS101: 1 of 2 rows present
		NewStudents:          1,
	}, d)

	_, err = f.svc.AdminDashboard(f.ctx, oldP)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStudentDashboard(t *testing.T) {
	f := newFixture(t)
	s, sp := f.student("S001", nil)
	var courses []*Course
	for i := 0; i < 7; i++ {
		c := f.course(fmt.Sprintf("C%03d", i))
		courses = append(courses, c)
		f.enroll(s.ID, c.ID)
	}
	require.True(t, f.svc.CheckIn(f.ctx, sp, courses[0].ID).Success)
	f.now = f.now.Add(24 * time.Hour)
	require.True(t, f.svc.CheckIn(f.ctx, sp, courses[0].ID).Success)

	d, err := f.svc.StudentDashboard(f.ctx, sp)
	require.NoError(t, err)
	assert.Equal(t, "Student S001", d.FullName)
	assert.Equal(t, 7, d.ActiveCourses)
	assert.Equal(t, 100.0, d.AverageAttendance)
	require.Len(t, d.UpcomingClasses, upcomingLimit)
	assert.Equal(t, courses[0].ID, d.UpcomingClasses[0].ID)
	assert.Equal(t, courses[4].ID, d.UpcomingClasses[4].ID)
}

func TestStudentDashboardWithoutAttendance(t *testing.T) {
	f := newFixture(t)
	_, sp := f.student("S001", nil)
	d, err := f.svc.StudentDashboard(f.ctx, sp)
	require.NoError(t, err)
	assert.Zero(t, d.ActiveCourses)
	assert.Equal(t, 0.0, d.AverageAttendance)
	assert.Empty(t, d.UpcomingClasses)
}
