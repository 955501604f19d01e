package factory

import "fmt"

// StandardScheduleJSON is a small primary-school fee schedule used by the
// demo scenarios: three grades, food and sports add-ons, two bus routes.
func StandardScheduleJSON(yearID string) string {
	return fmt.Sprintf(`{
  "year_id": %q,
  "tuition": [
    {"grade_id": "grade-1", "full_day": 10000, "half_day": 6000},
    {"grade_id": "grade-2", "full_day": 11000, "half_day": 6500},
    {"grade_id": "grade-3", "full_day": 12000, "half_day": 7000}
  ],
  "universal": [
    {"fee_type": "food", "amount": 500},
    {"fee_type": "sports", "amount": 300},
    {"fee_type": "library", "amount": 150},
    {"fee_type": "technology", "amount": 250}
  ],
  "transport": [
    {"route_id": "route-north", "name": "North loop", "one_way": 800, "two_way": 1500},
    {"route_id": "route-east", "name": "East express", "one_way": 700, "two_way": 1200}
  ]
}`, yearID)
}
