package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"mentara-client/internal/domain"
)

// expirySkew refreshes slightly early so a token does not expire in flight.
const expirySkew = 30 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Access  string         `json:"access"`
	Refresh string         `json:"refresh"`
	Tokens  *domain.Tokens `json:"tokens"`
}

func (r tokenResponse) tokens() domain.Tokens {
	if r.Tokens != nil && r.Tokens.Access != "" {
		return *r.Tokens
	}
	return domain.Tokens{Access: r.Access, Refresh: r.Refresh}
}

// Login exchanges credentials for tokens and stores them.
func (c *Client) Login(ctx context.Context, username, password string) (domain.Tokens, error) {
	req, err := jsonRequest(http.MethodPost, "auth/login/", loginRequest{Username: username, Password: password})
	if err != nil {
		return domain.Tokens{}, err
	}
	req.anonymous = true

	var resp tokenResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return domain.Tokens{}, fmt.Errorf("login: %w", err)
	}
	tokens := resp.tokens()
	if tokens.Access == "" {
		return domain.Tokens{}, errors.New("login: response carried no access token")
	}
	if err := c.tokens.Save(tokens); err != nil {
		return domain.Tokens{}, fmt.Errorf("save credentials: %w", err)
	}
	return tokens, nil
}

// Logout revokes the refresh token server-side (best effort) and clears local credentials.
func (c *Client) Logout(ctx context.Context) error {
	tokens, err := c.tokens.Load()
	if err != nil {
		return err
	}
	if tokens.Refresh != "" {
		req, err := jsonRequest(http.MethodPost, "auth/logout/", map[string]string{"refresh": tokens.Refresh})
		if err == nil {
			if err := c.do(ctx, req, nil); err != nil {
				c.log.Warn().Err(err).Msg("server logout failed")
			}
		}
	}
	return c.tokens.Clear()
}

// ensureFresh refreshes ahead of time when the access token's exp has passed.
func (c *Client) ensureFresh(ctx context.Context) error {
	tokens, err := c.tokens.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		return nil
	}
	if !c.expired(tokens.Access) {
		return nil
	}
	return c.refresh(ctx)
}

// expired reads exp without verifying the signature; opaque tokens never count as expired.
func (c *Client) expired(access string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(c.now().Add(expirySkew))
}

// refresh obtains a new access token; concurrent callers share one request.
// The request runs detached from ctx so a caller giving up does not cancel it
// for the others. Credentials are cleared only when the server rejects the
// refresh token.
func (c *Client) refresh(ctx context.Context) error {
	ch := c.sf.DoChan("refresh", func() (interface{}, error) {
		tokens, err := c.tokens.Load()
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		if tokens.Refresh == "" {
			return nil, domain.ErrUnauthenticated
		}

		req, err := jsonRequest(http.MethodPost, "auth/token/refresh/", map[string]string{"refresh": tokens.Refresh})
		if err != nil {
			return nil, err
		}
		req.anonymous = true

		var resp tokenResponse
		err = c.do(context.WithoutCancel(ctx), req, &resp)
		if err != nil && !rejected(err) {
			c.log.Warn().Err(err).Msg("token refresh failed")
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		if err != nil || resp.tokens().Access == "" {
			c.log.Warn().Err(err).Msg("token refresh rejected, clearing credentials")
			_ = c.tokens.Clear()
			return nil, fmt.Errorf("refresh token: %w", domain.ErrUnauthenticated)
		}

		next := resp.tokens()
		if next.Refresh == "" {
			next.Refresh = tokens.Refresh
		}
		if err := c.tokens.Save(next); err != nil {
			return nil, fmt.Errorf("save credentials: %w", err)
		}
		c.log.Debug().Msg("access token refreshed")
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rejected reports whether err is the server refusing the request (4xx).
func rejected(err error) bool {
	var reqErr *domain.RequestError
	return errors.As(err, &reqErr) && reqErr.Status >= 400 && reqErr.Status < 500
}
