package models

// StatsReservationSummary aggregates reservation counts for the dashboard.
type StatsReservationSummary struct {
	TotalReservations      int     `json:"total_reservations"`
	ActiveReservations     int     `json:"active_reservations"`
	AverageDurationMinutes float64 `json:"average_duration_minutes"`
}

// ResourceUsageEntry ranks a resource by completed reservation volume.
type ResourceUsageEntry struct {
	ResourceID        string  `json:"resource_id"`
	ResourceName      string  `json:"resource_name"`
	TotalReservations int     `json:"total_reservations"`
	TotalMinutes      float64 `json:"total_minutes"`
}

// ReservationStats is the aggregate statistics response.
type ReservationStats struct {
	Summary      StatsReservationSummary `json:"reservations"`
	TopResources []ResourceUsageEntry    `json:"top_resources"`
	UsageByDay   map[string]int          `json:"usage_by_day"`
}
