package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pborenstein/apantli/internal/apperr"
	"github.com/pborenstein/apantli/internal/ledger"
	"github.com/pborenstein/apantli/internal/stats"
)

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.KindValidation, "invalid %s: %q is not an integer", name, raw)
	}
	return v, nil
}

func floatQuery(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "invalid %s: %q is not a number", name, raw)
	}
	return &v, nil
}

func boolQuery(c *gin.Context, name string) bool {
	switch c.Query(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// parseWindow reads the reporting period parameters shared by the stats
// endpoints. defaultDays bounds the window when the client gives no
// period at all; 0 leaves it unbounded.
func parseWindow(c *gin.Context, defaultDays int) (stats.Window, error) {
	hours, err := intQuery(c, "hours", 0)
	if err != nil {
		return stats.Window{}, err
	}
	offset, err := intQuery(c, "timezone_offset", 0)
	if err != nil {
		return stats.Window{}, err
	}
	return stats.ParseWindow(stats.WindowParams{
		Hours:         hours,
		StartDate:     c.Query("start_date"),
		EndDate:       c.Query("end_date"),
		OffsetMinutes: offset,
		DefaultDays:   defaultDays,
	})
}

// parseFilter reads the row-selection parameters shared by the reporting
// endpoints.
func parseFilter(c *gin.Context) (ledger.Filter, error) {
	f := ledger.Filter{
		Provider:      c.Query("provider"),
		Model:         c.Query("model"),
		Search:        c.Query("search"),
		ErrorsOnly:    boolQuery(c, "errors_only"),
		IncludeErrors: boolQuery(c, "include_errors"),
	}
	var err error
	if f.MinCost, err = floatQuery(c, "min_cost"); err != nil {
		return ledger.Filter{}, err
	}
	if f.MaxCost, err = floatQuery(c, "max_cost"); err != nil {
		return ledger.Filter{}, err
	}
	return f, nil
}

func abortClassified(c *gin.Context, err error) {
	cls := apperr.Classify(err)
	c.JSON(cls.Status, cls.Body())
}

func (s *Server) handleStats(c *gin.Context) {
	window, err := parseWindow(c, 0)
	if err != nil {
		abortClassified(c, err)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		abortClassified(c, err)
		return
	}
	overview, err := s.stats.Overview(c.Request.Context(), window, filter)
	if err != nil {
		abortClassified(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// handleStatsDaily serves per-day aggregates, covering the last 30 local
// days unless the client narrows the period.
func (s *Server) handleStatsDaily(c *gin.Context) {
	window, err := parseWindow(c, 30)
	if err != nil {
		abortClassified(c, err)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		abortClassified(c, err)
		return
	}
	buckets, err := s.stats.Daily(c.Request.Context(), window, filter)
	if err != nil {
		abortClassified(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"daily": buckets})
}

// handleStatsHourly serves per-hour aggregates. A date parameter limits
// the buckets to that single local day.
func (s *Server) handleStatsHourly(c *gin.Context) {
	var window stats.Window
	var err error
	if date := c.Query("date"); date != "" {
		var offset int
		if offset, err = intQuery(c, "timezone_offset", 0); err != nil {
			abortClassified(c, err)
			return
		}
		window, err = stats.ParseWindow(stats.WindowParams{
			StartDate:     date,
			EndDate:       date,
			OffsetMinutes: offset,
		})
	} else {
		window, err = parseWindow(c, 0)
	}
	if err != nil {
		abortClassified(c, err)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		abortClassified(c, err)
		return
	}
	buckets, err := s.stats.Hourly(c.Request.Context(), window, filter)
	if err != nil {
		abortClassified(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hourly": buckets})
}

func (s *Server) handleStatsDateRange(c *gin.Context) {
	dr, err := s.stats.DateRange(c.Request.Context())
	if err != nil {
		abortClassified(c, err)
		return
	}
	c.JSON(http.StatusOK, dr)
}

// handleRequests serves the paginated request listing. Aggregates cover
// the whole filtered set, not just the returned page.
func (s *Server) handleRequests(c *gin.Context) {
	window, err := parseWindow(c, 0)
	if err != nil {
		abortClassified(c, err)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		abortClassified(c, err)
		return
	}
	filter.Since = window.Since
	filter.Until = window.Until

	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		abortClassified(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		abortClassified(c, err)
		return
	}
	page := ledger.Page{
		Offset:    offset,
		Limit:     limit,
		SortField: c.Query("sort"),
		SortDesc:  c.DefaultQuery("order", "desc") == "desc",
	}

	result, err := s.ledger.Backend().QueryRequests(c.Request.Context(), filter, page)
	if err != nil {
		abortClassified(c, err)
		return
	}
	if result.Requests == nil {
		result.Requests = []ledger.RequestRow{}
	}
	c.JSON(http.StatusOK, result)
}

// handleClearErrors deletes all error rows.
func (s *Server) handleClearErrors(c *gin.Context) {
	deleted, err := s.ledger.Backend().ClearErrors(c.Request.Context())
	if err != nil {
		abortClassified(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
