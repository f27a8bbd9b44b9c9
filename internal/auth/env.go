package auth

import (
	"context"

	"github.com/pkg/browser"
)

// Env abstracts how the consent URL reaches the user. The default opens the
// system browser; tests substitute their own.
type Env interface {
	RequestCode(url, state string) error
	WaitForCodeAndState(ctx context.Context) (string, string, error)
}

type desktopEnv struct {
	Session *oauthSession
}

var _ Env = (*desktopEnv)(nil)

func (e *desktopEnv) RequestCode(url, _ string) error {
	return browser.OpenURL(url)
}

func (e *desktopEnv) WaitForCodeAndState(ctx context.Context) (string, string, error) {
	return e.Session.WaitForCodeAndState(ctx)
}
