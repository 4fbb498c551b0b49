// Package notify delivers search results by email.
package notify

import (
	"context"
	"errors"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

// ErrNotConfigured is returned by the disabled notifier used when no mail
// credentials are configured.
var ErrNotConfigured = errors.New("notify: mail delivery not configured")

// Notifier sends a result set to one address.
type Notifier interface {
	Notify(ctx context.Context, to string, projects []model.Project, criteria model.Criteria) error
}

// Disabled refuses every delivery with ErrNotConfigured.
type Disabled struct{}

func (Disabled) Notify(context.Context, string, []model.Project, model.Criteria) error {
	return ErrNotConfigured
}
