package dto

import "github.com/keymeter/keymeter/internal/service"

// MonthlyUsageResponse is the /api/usage/monthly body.
type MonthlyUsageResponse struct {
	Month         string          `json:"month"`
	TotalRequests int64           `json:"total_requests"`
	Users         []UserUsageItem `json:"users"`
}

// UserUsageItem is one user's count in MonthlyUsageResponse.
type UserUsageItem struct {
	UserID   int64 `json:"user_id"`
	Requests int64 `json:"requests"`
}

// ToMonthlyUsageResponse converts a service report to its JSON shape.
func ToMonthlyUsageResponse(report *service.MonthlyUsageReport) MonthlyUsageResponse {
	items := make([]UserUsageItem, len(report.Users))
	for i, u := range report.Users {
		items[i] = UserUsageItem{UserID: u.UserID, Requests: u.Requests}
	}
	return MonthlyUsageResponse{
		Month:         report.Month.Format("2006-01"),
		TotalRequests: report.Total,
		Users:         items,
	}
}
