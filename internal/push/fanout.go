package push

import (
	"context"
	"errors"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/service"
)

// Fanout hands every notification to each notifier in turn. One failing
// notifier does not stop the others; their errors are joined.
type Fanout []service.Notifier

func (f Fanout) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
