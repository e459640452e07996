package ledger

import "database/sql"

// scanDailyRows folds (day, provider, model) group rows into per-day
// buckets, preserving the query's day ordering.
func scanDailyRows(rows *sql.Rows) ([]DailyBucket, error) {
	var out []DailyBucket
	index := make(map[string]int)

	for rows.Next() {
		var (
			day    string
			slice  ModelSlice
			tokens int64
		)
		if err := rows.Scan(&day, &slice.Provider, &slice.Model, &slice.Requests, &slice.Cost, &tokens); err != nil {
			return nil, err
		}
		i, ok := index[day]
		if !ok {
			out = append(out, DailyBucket{Date: day})
			i = len(out) - 1
			index[day] = i
		}
		out[i].Requests += slice.Requests
		out[i].Cost += slice.Cost
		out[i].TotalTokens += tokens
		out[i].ByModel = append(out[i].ByModel, slice)
	}
	return out, rows.Err()
}

// scanHourlyRows folds (hour, provider, model) group rows into per-hour
// buckets in ascending hour order.
func scanHourlyRows(rows *sql.Rows) ([]HourlyBucket, error) {
	var out []HourlyBucket
	index := make(map[int]int)

	for rows.Next() {
		var (
			hour   int
			slice  ModelSlice
			tokens int64
		)
		if err := rows.Scan(&hour, &slice.Provider, &slice.Model, &slice.Requests, &slice.Cost, &tokens); err != nil {
			return nil, err
		}
		i, ok := index[hour]
		if !ok {
			out = append(out, HourlyBucket{Hour: hour})
			i = len(out) - 1
			index[hour] = i
		}
		out[i].Requests += slice.Requests
		out[i].Cost += slice.Cost
		out[i].TotalTokens += tokens
		out[i].ByModel = append(out[i].ByModel, slice)
	}
	return out, rows.Err()
}
