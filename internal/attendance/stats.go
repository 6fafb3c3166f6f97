package attendance

import "context"

// AdminDashboard computes the admin statistics from current store state.
// Nothing is cached; each call reads the ledgers again.
func (s *Service) AdminDashboard(ctx context.Context, p Principal) (AdminDashboard, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return AdminDashboard{}, err
	}
	var (
		d   AdminDashboard
		err error
	)
	if d.TotalStudents, err = s.repo.CountStudents(ctx); err != nil {
		return AdminDashboard{}, err
	}
	if d.TotalCourses, err = s.repo.CountCourses(ctx); err != nil {
		return AdminDashboard{}, err
	}
	tallies, err := s.repo.CourseTallies(ctx)
	if err != nil {
		return AdminDashboard{}, err
	}
	d.LowAttendanceCourses = countBelow(tallies, s.threshold)

	since := s.nowFunc().Add(-s.window)
	if d.NewStudents, err = s.repo.CountStudentsCreatedSince(ctx, since); err != nil {
		return AdminDashboard{}, err
	}
	return d, nil
}

// countBelow counts courses with at least one row whose rate is under threshold.
func countBelow(tallies []Tally, threshold float64) int {
	n := 0
	for _, t := range tallies {
		if t.Total == 0 {
			continue
		}
		if percentage(t.Present, t.Total) < threshold {
			n++
		}
	}
	return n
}

// StudentDashboard summarizes the caller's enrollments and attendance. The
// upcoming list is the first few enrollments; no schedule is consulted.
func (s *Service) StudentDashboard(ctx context.Context, p Principal) (StudentDashboard, error) {
	if err := Authorize(p, RoleStudent); err != nil {
		return StudentDashboard{}, err
	}
	st, err := s.findStudent(ctx, p.StudentID)
	if err != nil {
		return StudentDashboard{}, err
	}
	enrolled, err := s.repo.ListStudentEnrollments(ctx, p.StudentID, 0)
	if err != nil {
		return StudentDashboard{}, err
	}
	tallies, err := s.repo.StudentTallies(ctx, p.StudentID)
	if err != nil {
		return StudentDashboard{}, err
	}
	present, total := 0, 0
	for _, t := range tallies {
		present += t.Present
		total += t.Total
	}
	upcoming := make([]Course, 0, upcomingLimit)
	for _, ec := range enrolled {
		if len(upcoming) == upcomingLimit {
			break
		}
		upcoming = append(upcoming, ec.Course)
	}
	return StudentDashboard{
		FullName:          st.FullName,
		ActiveCourses:     len(enrolled),
		AverageAttendance: percentage(present, total),
		UpcomingClasses:   upcoming,
	}, nil
}
