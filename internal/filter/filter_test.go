package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ev(id, title, category string, start time.Time, d time.Duration) model.CalendarEvent {
	return model.CalendarEvent{SourceID: id, Title: title, Category: category, Start: start, End: start.Add(d)}
}

func fixture() []model.CalendarEvent {
	return []model.CalendarEvent{
		ev("cd", "Bulbasaur Community Day", "Community Day", time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC), 3*time.Hour),
		ev("raid", "Mewtwo Raid Hour", "Raid Hour", time.Date(2024, 6, 5, 18, 0, 0, 0, time.UTC), time.Hour),
		ev("season", "Season of Light", "Season", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 60*24*time.Hour),
		ev("old", "Spotlight Hour", "Spotlight", time.Date(2024, 5, 20, 18, 0, 0, 0, time.UTC), time.Hour),
		ev("night", "Night Raid", "Raid Hour", time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC), time.Hour),
	}
}

func ids(events []model.CalendarEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.SourceID
	}
	return out
}

func TestApplyDefaultsKeepEverything(t *testing.T) {
	events := fixture()
	got := Apply(events, model.DefaultFilters(), nil, now, time.UTC)
	assert.Equal(t, ids(events), ids(got))
}

func TestApplySearch(t *testing.T) {
	f := model.DefaultFilters()
	f.SearchTerm = "  RAID "
	got := Apply(fixture(), f, nil, now, time.UTC)
	assert.Equal(t, []string{"raid", "night"}, ids(got))
}

func TestApplyCategories(t *testing.T) {
	f := model.DefaultFilters()
	f.SelectedCategories = []string{"Raid Hour", "Season"}
	got := Apply(fixture(), f, nil, now, time.UTC)
	assert.Equal(t, []string{"raid", "season", "night"}, ids(got))
}

func TestApplySavedPseudoCategory(t *testing.T) {
	saved := map[string]struct{}{"old": {}, "gone-from-feed": {}}

	f := model.DefaultFilters()
	f.SelectedCategories = []string{model.CategorySaved}
	assert.Equal(t, []string{"old"}, ids(Apply(fixture(), f, saved, now, time.UTC)))

	f.SelectedCategories = []string{model.CategorySaved, "Community Day"}
	assert.Equal(t, []string{"cd", "old"}, ids(Apply(fixture(), f, saved, now, time.UTC)))
}

func TestApplyDateRange(t *testing.T) {
	start := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC)

	f := model.DefaultFilters()
	f.StartDate, f.EndDate = &start, &end
	assert.Equal(t, []string{"raid", "season", "night"}, ids(Apply(fixture(), f, nil, now, time.UTC)))

	f.EndDate = nil
	assert.Equal(t, []string{"raid", "season", "night"}, ids(Apply(fixture(), f, nil, now, time.UTC)))

	early := time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC)
	f.StartDate, f.EndDate = nil, &early
	assert.Equal(t, []string{"season", "old"}, ids(Apply(fixture(), f, nil, now, time.UTC)))
}

func TestApplyTimeOfDayInDisplayZone(t *testing.T) {
	f := model.DefaultFilters()
	f.TimeRange = [2]float64{9, 20}

	// UTC: cd starts 11:00, raid 18:00, night 02:00, old 18:00.
	assert.Equal(t, []string{"cd", "raid", "season", "old"}, ids(Apply(fixture(), f, nil, now, time.UTC)))

	// Tokyo (+9): cd 20:00, raid 03:00, night 11:00, old 03:00.
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, []string{"season", "night"}, ids(Apply(fixture(), f, nil, now, tokyo)))
}

func TestApplyTimeOfDayFractionalHours(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "a", "c", time.Date(2024, 6, 1, 9, 29, 0, 0, time.UTC), time.Hour),
		ev("b", "b", "c", time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC), time.Hour),
	}
	f := model.DefaultFilters()
	f.TimeRange = [2]float64{9.5, 10}
	assert.Equal(t, []string{"b"}, ids(Apply(events, f, nil, now, time.UTC)))
}

func TestApplyActiveOnly(t *testing.T) {
	f := model.DefaultFilters()
	f.ShowActiveOnly = true
	assert.Equal(t, []string{"cd", "season"}, ids(Apply(fixture(), f, nil, now, time.UTC)))
}

func TestApplyCombined(t *testing.T) {
	f := model.DefaultFilters()
	f.SelectedCategories = []string{"Raid Hour"}
	f.TimeRange = [2]float64{12, 24}
	got := Apply(fixture(), f, nil, now, time.UTC)
	assert.Equal(t, []string{"raid"}, ids(got))

	for _, e := range got {
		assert.True(t, Match(e, f, nil, now, time.UTC))
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	saved := map[string]struct{}{"night": {}}
	filters := []model.Filters{
		model.DefaultFilters(),
		{SearchTerm: "raid", TimeRange: [2]float64{0, 24}},
		{SelectedCategories: []string{model.CategorySaved, "Season"}, TimeRange: [2]float64{0, 24}},
		{TimeRange: [2]float64{1, 19}, ShowActiveOnly: true},
	}
	for _, f := range filters {
		once := Apply(fixture(), f, saved, now, time.UTC)
		twice := Apply(once, f, saved, now, time.UTC)
		assert.Equal(t, ids(once), ids(twice))
	}
}

func TestApplyEmptyInput(t *testing.T) {
	got := Apply(nil, model.DefaultFilters(), nil, now, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
