package doubt

import (
	"fmt"
	"math"
	"time"
)

// TutorStats summarizes the work of one tutor.
type TutorStats struct {
	ResolvedCount          int     `json:"resolved_count"`
	InProgressCount        int     `json:"in_progress_count"`
	TotalStudentsHelped    int     `json:"total_students_helped"`
	RatingsCount           int     `json:"ratings_count"`
	AverageRating          float64 `json:"average_rating"`
	AverageResponseMinutes float64 `json:"average_response_minutes"`
	AverageTime            string  `json:"average_time"`
	ResponseTimeRank       string  `json:"response_time_rank"`
	ActiveStreak           int     `json:"active_streak"` // consecutive days with a resolution, up to today
	StreakMessage          string  `json:"streak_message"`
	ResponseRate           int     `json:"response_rate"` // % of ratings >= 4
}

// ComputeTutorStats aggregates the work of the tutor identified by tutorID.
// A resolution counts even if the question was reopened afterwards, and a rating counts for
// the tutor whose resolution was rated, whoever holds the question now.
func ComputeTutorStats(questions []Question, tutorID string, now time.Time) TutorStats {
	var (
		stats        TutorStats
		ratingSum    int
		satisfied    int
		responseSum  time.Duration
		responseN    int
		students     = make(map[string]bool)
		resolvedDays = make(map[string]bool)
	)

	resolved := func(q Question, at *time.Time) {
		stats.ResolvedCount++
		students[q.Student.ID] = true
		if at != nil {
			resolvedDays[dayKey(*at)] = true
		}
	}

	for _, q := range questions {
		if q.IsAssignedTo(tutorID) {
			switch q.Status {
			case StatusResolved:
				resolved(q, q.ResolvedAt)
			case StatusAssigned:
				stats.InProgressCount++
			}
			if q.AssignedAt != nil {
				responseSum += q.AssignedAt.Sub(q.CreatedAt)
				responseN++
			}
		}
		for _, r := range q.ReopenHistory {
			if r.PreviousTutor.ID == tutorID {
				resolved(q, r.PreviousResolvedAt)
			}
		}
		if q.Rating != nil && q.Rating.TutorID == tutorID {
			stats.RatingsCount++
			ratingSum += q.Rating.Score
			if q.Rating.Score >= 4 {
				satisfied++
			}
		}
	}

	stats.TotalStudentsHelped = len(students)
	if stats.RatingsCount > 0 {
		stats.AverageRating = math.Round(float64(ratingSum)/float64(stats.RatingsCount)*10) / 10
		stats.ResponseRate = int(math.Round(float64(satisfied) / float64(stats.RatingsCount) * 100))
	}

	stats.AverageTime = "N/A"
	stats.ResponseTimeRank = "Building your stats..."
	if responseN > 0 {
		avg := responseSum / time.Duration(responseN)
		stats.AverageResponseMinutes = math.Round(avg.Minutes()*10) / 10
		stats.AverageTime = formatDuration(avg)
		stats.ResponseTimeRank = responseRank(avg)
	}

	stats.ActiveStreak = streak(resolvedDays, now)
	stats.StreakMessage = streakMessage(stats.ActiveStreak)
	return stats
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// streak counts consecutive days ending today (or yesterday, if nothing was resolved yet today).
func streak(days map[string]bool, now time.Time) int {
	day := now.UTC()
	if !days[dayKey(day)] {
		day = day.AddDate(0, 0, -1)
	}
	var n int
	for days[dayKey(day)] {
		n++
		day = day.AddDate(0, 0, -1)
	}
	return n
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	switch {
	case d < time.Minute:
		return "< 1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func responseRank(avg time.Duration) string {
	switch {
	case avg <= 30*time.Minute:
		return "Lightning fast!"
	case avg <= 2*time.Hour:
		return "Quick responder"
	case avg <= 24*time.Hour:
		return "Steady helper"
	default:
		return "Every answer counts"
	}
}

func streakMessage(days int) string {
	switch {
	case days == 0:
		return "Start helping students!"
	case days < 3:
		return "Keep it going!"
	case days < 7:
		return "You're on a roll!"
	default:
		return "Unstoppable!"
	}
}
