package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// authenticate submits the login form and confirms a session token was issued.
func (e *Engine) authenticate(ctx context.Context, page scrape.Page, userID string, creds scrape.Credentials) error {
	log := e.logger.With(zap.String("user_id", userID))
	log.Info("login page detected, signing in")

	if err := page.Type(ctx, usernameSelector, creds.Username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	if err := page.Pause(ctx, 300*time.Millisecond, 700*time.Millisecond); err != nil {
		return err
	}
	if err := page.Type(ctx, passwordSelector, creds.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	if err := page.Pause(ctx, 500*time.Millisecond, 1000*time.Millisecond); err != nil {
		return err
	}
	if err := page.Click(ctx, submitSelector); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	if err := page.WaitURLLeaves(ctx, loginPattern, e.opts.LoginTimeout); err != nil {
		if !errors.Is(err, scrape.ErrWaitTimeout) {
			return fmt.Errorf("await login redirect: %w", err)
		}
		e.markCreds(ctx, userID, scrape.CredsStatusFailed)
		return &scrape.AuthenticationError{
			Reason: fmt.Sprintf("still on login page after %s, check your credentials", e.opts.LoginTimeout),
		}
	}

	_, ok, err := page.Cookie(ctx, tokenCookie)
	if err != nil {
		return fmt.Errorf("read session cookie: %w", err)
	}
	if !ok {
		e.markCreds(ctx, userID, scrape.CredsStatusFailed)
		return &scrape.AuthenticationError{Reason: "no session token issued"}
	}

	e.markCreds(ctx, userID, scrape.CredsStatusWorking)
	log.Info("login succeeded")
	return nil
}

// markCreds records credential health. Failures are logged only.
func (e *Engine) markCreds(ctx context.Context, userID string, status scrape.CredsStatus) {
	if e.creds == nil {
		return
	}
	if err := e.creds.SetCredsStatus(context.WithoutCancel(ctx), userID, status); err != nil {
		e.logger.Warn("failed to update credential status",
			zap.String("user_id", userID),
			zap.String("creds_status", string(status)),
			zap.Error(err),
		)
	}
}
