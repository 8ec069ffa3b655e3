package service

import (
	"context"
	"errors"

	"github.com/summit-bot/internal/domain"
)

// FanOut delivers every event to each sink. One failing sink does not stop
// delivery to the others; their errors are joined.
type FanOut []EventSink

// Publish implements EventSink
func (f FanOut) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
