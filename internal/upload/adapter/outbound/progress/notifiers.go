package progress

import (
	"context"

	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/gosdk/logger"
)

// LogNotifier writes each progress label to the service log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, message string) {
	logger.Infow("Upload progress", "progress", message)
}

// Fanout forwards each label to every notifier in order.
type Fanout []port.ProgressNotifier

func (f Fanout) Notify(ctx context.Context, message string) {
	for _, n := range f {
		n.Notify(ctx, message)
	}
}
