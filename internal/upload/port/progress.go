package port

import "context"

//go:generate mockgen -destination=../service/mocks/progress_mock.go -package=mocks -source=progress.go

// ProgressNotifier emits a human-readable progress signal.
// Delivery is best-effort: implementations absorb their own failures and must not block on slow observers.
type ProgressNotifier interface {
	Notify(ctx context.Context, message string)
}
