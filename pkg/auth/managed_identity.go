// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Cloud Shell and VM extensions serve managed identity tokens on this port.
// https://learn.microsoft.com/azure/cloud-shell/msi-authorization
const cDefaultManagedIdentityPort = 50342

// cManagedIdentityUser names the identity when its token carries no user or app claim.
const cManagedIdentityUser = "systemAssignedIdentity"

func managedIdentityEndpoint(port int) string {
	if port == 0 {
		port = cDefaultManagedIdentityPort
	}

	return fmt.Sprintf("http://localhost:%d/oauth2/token", port)
}

func defaultManagedIdentityBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
}

type managedIdentityToken struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	ExpiresOn    json.Number `json:"expires_on"`
	Resource     string      `json:"resource"`
	TokenType    string      `json:"token_type"`
}

// managedIdentityClient requests tokens from the local managed identity endpoint. The endpoint expects an AAD v1
// resource rather than a v2 scope.
type managedIdentityClient struct {
	httpClient *http.Client
	endpoint   string
	backoff    func() retry.Backoff
}

// token retries connection failures, throttling and server errors. Any other failure is returned immediately.
func (c *managedIdentityClient) token(ctx context.Context, resource string) (*oauth2.Token, error) {
	var tok *oauth2.Token
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		t, err := c.fetch(ctx, resource)
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tok, nil
}

func (c *managedIdentityClient) fetch(ctx context.Context, resource string) (*oauth2.Token, error) {
	postData := url.Values{}
	postData.Set("resource", resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(postData.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Metadata", "true")
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debugf("managed identity endpoint unreachable: %v", err)
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf(
			"invalid managed identity token response code: %d, content: %s", resp.StatusCode, responseBytes)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}

	var t managedIdentityToken
	if err := json.Unmarshal(responseBytes, &t); err != nil {
		return nil, fmt.Errorf("parsing managed identity token: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
	}

	if expiresOn, err := t.ExpiresOn.Int64(); err == nil && expiresOn > 0 {
		tok.Expiry = time.Unix(expiresOn, 0)
	} else if expiresIn, err := t.ExpiresIn.Int64(); err == nil && expiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	return tok, nil
}
