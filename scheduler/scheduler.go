package scheduler

// Package scheduler provides scheduled job management for the quote alert backend.
// It handles:
// - Alert evaluation batches
// - Weekly trigger history cleanup
//
// The main scheduler is implemented in jobs.go
