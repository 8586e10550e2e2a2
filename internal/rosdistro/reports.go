package rosdistro

import (
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

// OneWeek is the default series resolution.
const OneWeek = 7 * 24 * time.Hour

// MonthKey buckets series values by calendar month.
type MonthKey struct {
	Year  int
	Month time.Month
}

// TimePoint is one sample of a time series.
type TimePoint struct {
	Date  time.Time
	Value float64
}

func rowTime(row metricdb.Row) time.Time {
	epoch, _ := row["date"].(int64)

	return time.Unix(epoch, 0).UTC()
}

func rowMonth(row metricdb.Row) MonthKey {
	t := rowTime(row)

	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// changeQuery joins commits to changes ordered by date, selecting the
// named change fields alongside the commit date.
func changeQuery(db *metricdb.DB, fields, clause string) ([]metricdb.Row, error) {
	query := fmt.Sprintf(
		"SELECT date, %s FROM commits INNER JOIN changes ON commits.id = changes.commit_id %s ORDER BY date",
		fields, clause,
	)

	return db.Query(query)
}

// ClassificationRatio samples, at the given resolution, the fraction of
// commits so far that produced at least one change record.
func ClassificationRatio(db *metricdb.DB, resolution time.Duration) ([]TimePoint, error) {
	rows, err := changeQuery(db, "commits.id AS id", "")
	if err != nil {
		return nil, err
	}

	var series []TimePoint

	var lastTime time.Time

	known := make(map[int64]struct{})

	for _, row := range rows {
		t := rowTime(row)

		if lastTime.IsZero() {
			lastTime = t
			series = append(series, TimePoint{Date: t})
		}

		id, _ := row["id"].(int64)
		known[id] = struct{}{}

		if t.Sub(lastTime) > resolution && id > 0 {
			lastTime = t
			series = append(series, TimePoint{Date: t, Value: float64(len(known)) / float64(id)})
		}
	}

	return series, nil
}

// VerbsByMonth counts change verbs per calendar month.
func VerbsByMonth(db *metricdb.DB) (map[MonthKey]map[string]int, error) {
	rows, err := changeQuery(db, "verb", "")
	if err != nil {
		return nil, err
	}

	return bucketByMonth(rows, "verb", nil), nil
}

// DistroActionByMonth counts changes per distro per calendar month,
// skipping details that are not distro names.
func DistroActionByMonth(db *metricdb.DB, distros *DistroIndex) (map[MonthKey]map[string]int, error) {
	rows, err := changeQuery(db, "detail", "")
	if err != nil {
		return nil, err
	}

	return bucketByMonth(rows, "detail", func(value string) bool {
		return distros.Known(value)
	}), nil
}

// VersionBumpsByMonth counts bump granularities per calendar month.
func VersionBumpsByMonth(db *metricdb.DB) (map[MonthKey]map[string]int, error) {
	rows, err := changeQuery(db, "noun", `WHERE verb="bump"`)
	if err != nil {
		return nil, err
	}

	return bucketByMonth(rows, "noun", nil), nil
}

// DepChangesByMonth counts dependency changes per dependency name per
// calendar month.
func DepChangesByMonth(db *metricdb.DB) (map[MonthKey]map[string]int, error) {
	rows, err := changeQuery(db, "detail", `WHERE noun="dep"`)
	if err != nil {
		return nil, err
	}

	return bucketByMonth(rows, "detail", nil), nil
}

func bucketByMonth(rows []metricdb.Row, field string, keep func(string) bool) map[MonthKey]map[string]int {
	buckets := make(map[MonthKey]map[string]int)

	for _, row := range rows {
		value, ok := row[field].(string)
		if !ok || (keep != nil && !keep(value)) {
			continue
		}

		key := rowMonth(row)

		bucket, exists := buckets[key]
		if !exists {
			bucket = make(map[string]int)
			buckets[key] = bucket
		}

		bucket[value]++
	}

	return buckets
}

// CommitterSeries samples the total and recently-active committer counts
// over the commit history. A committer is active while their latest
// commit is within activeWindow; a zero window keeps everyone active.
func CommitterSeries(db *metricdb.DB, activeWindow, resolution time.Duration) (total, active []TimePoint, err error) {
	rows, err := db.Query("SELECT email, date FROM commits ORDER BY date")
	if err != nil {
		return nil, nil, err
	}

	committers := make(map[string]struct{})
	lastSeen := make(map[string]time.Time)

	var lastTime time.Time

	for _, row := range rows {
		email, _ := row["email"].(string)
		t := rowTime(row)

		committers[email] = struct{}{}
		lastSeen[email] = t

		if activeWindow > 0 {
			for who, when := range lastSeen {
				if t.Sub(when) >= activeWindow {
					delete(lastSeen, who)
				}
			}
		}

		if lastTime.IsZero() || t.Sub(lastTime) > resolution {
			lastTime = t
			total = append(total, TimePoint{Date: t, Value: float64(len(committers))})
			active = append(active, TimePoint{Date: t, Value: float64(len(lastSeen))})
		}
	}

	return total, active, nil
}

// RepoCountSeries returns, per distro, the sampled repo counts thinned to
// one point per resolution interval per value change.
func RepoCountSeries(db *metricdb.DB, resolution time.Duration) (map[string][]TimePoint, error) {
	rows, err := db.Query(
		"SELECT date, distro, count FROM commits INNER JOIN repo_count" +
			" ON commits.id = repo_count.commit_id ORDER BY date",
	)
	if err != nil {
		return nil, err
	}

	series := make(map[string][]TimePoint)

	for _, row := range rows {
		distro, _ := row["distro"].(string)
		count, _ := row["count"].(int64)
		t := rowTime(row)

		points := series[distro]

		if len(points) == 0 {
			series[distro] = append(points, TimePoint{Date: t, Value: float64(count)})

			continue
		}

		last := points[len(points)-1]
		if last.Value != float64(count) && t.Sub(last.Date) > resolution {
			series[distro] = append(points, TimePoint{Date: t, Value: float64(count)})
		}
	}

	return series, nil
}
