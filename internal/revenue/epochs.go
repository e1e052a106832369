// Package revenue groups savings vault revenue reports into weekly epochs.
package revenue

import (
	"sort"
	"time"

	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/shopspring/decimal"
)

const epochLength = 7 * 24 * time.Hour

// Epoch is a Thursday-anchored week of revenue reports.
type Epoch struct {
	StartDate     time.Time            `json:"start_date"`
	EndDate       time.Time            `json:"end_date"`
	WeeklyRevenue decimal.Decimal      `json:"weekly_revenue"`
	Data          []model.RevenueEvent `json:"data"`
}

// OrganizeIntoEpochs sorts events by timestamp and assigns each to a week starting on
// the Thursday on or before it (UTC). A new epoch opens once an event falls after the
// current epoch's end, so weeks without events are skipped. The input is not modified.
func OrganizeIntoEpochs(events []model.RevenueEvent) []Epoch {
	sorted := append([]model.RevenueEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	epochs := []Epoch{}
	for _, ev := range sorted {
		if len(epochs) == 0 || ev.Timestamp.After(epochs[len(epochs)-1].EndDate) {
			start := ThursdayOnOrBefore(ev.Timestamp)
			epochs = append(epochs, Epoch{
				StartDate:     start,
				EndDate:       start.Add(epochLength),
				WeeklyRevenue: decimal.Zero,
			})
		}
		current := &epochs[len(epochs)-1]
		current.Data = append(current.Data, ev)
		current.WeeklyRevenue = current.WeeklyRevenue.Add(ev.Gain.Sub(ev.Loss))
	}
	return epochs
}

// ThursdayOnOrBefore truncates t to midnight UTC of the closest Thursday not after it.
func ThursdayOnOrBefore(t time.Time) time.Time {
	u := t.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) - int(time.Thursday) + 7) % 7
	return day.AddDate(0, 0, -back)
}

type Summary struct {
	Epochs       int             `json:"epochs"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	FirstStart   *time.Time      `json:"first_start,omitempty"`
	LastStart    *time.Time      `json:"last_start,omitempty"`
	// AverageWeekly divides total revenue by the number of epochs with reports.
	AverageWeekly decimal.Decimal `json:"average_weekly"`
}

func Summarize(epochs []Epoch) Summary {
	s := Summary{Epochs: len(epochs), TotalRevenue: decimal.Zero, AverageWeekly: decimal.Zero}
	for _, e := range epochs {
		s.TotalRevenue = s.TotalRevenue.Add(e.WeeklyRevenue)
	}
	if len(epochs) > 0 {
		first := epochs[0].StartDate
		last := epochs[len(epochs)-1].StartDate
		s.FirstStart = &first
		s.LastStart = &last
		s.AverageWeekly = s.TotalRevenue.DivRound(decimal.NewFromInt(int64(len(epochs))), 18)
	}
	return s
}
