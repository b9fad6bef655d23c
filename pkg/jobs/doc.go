// Package jobs runs sitework's periodic maintenance on cron schedules.
//
// The only job today rolls org_usage rows into the current day and month
// so reporting queries never see yesterday's daily counters.
package jobs
