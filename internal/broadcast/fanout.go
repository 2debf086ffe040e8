package broadcast

import (
	"context"
	"errors"

	"chinchon/internal/app"
)

// Fanout delivers every update to all of its publishers.
type Fanout []app.Publisher

// Publish calls every publisher and joins their errors.
func (f Fanout) Publish(ctx context.Context, update app.Update) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to app.Publisher.
type PublisherFunc func(ctx context.Context, update app.Update) error

func (f PublisherFunc) Publish(ctx context.Context, update app.Update) error {
	return f(ctx, update)
}

var _ app.Publisher = Fanout(nil)
