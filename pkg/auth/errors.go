// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// ErrTenantRequired is returned when a service principal sign in does not name a tenant.
var ErrTenantRequired = errors.New("a tenant is required to sign in with a service principal")

// ErrNoExternalTokens is returned when an external token sign in finds no tokens to use.
var ErrNoExternalTokens = errors.New("no external tokens were provided")

// ErrNoManagementToken is returned when external tokens do not include one for the management resource.
var ErrNoManagementToken = errors.New("no token for the management resource was provided")

// ClassificationRule flags failures whose message contains Pattern.
type ClassificationRule struct {
	Pattern                     string
	Reason                      string
	RequiresInteractiveFallback bool
}

// DefaultClassificationRules are the failures known to succeed only when retried through the interactive flow.
// The identity provider text is not a stable contract, so callers may supply their own table.
var DefaultClassificationRules = []ClassificationRule{
	{Pattern: "AADSTS50076", Reason: "multi-factor authentication required", RequiresInteractiveFallback: true},
	{Pattern: "AADSTS50079", Reason: "multi-factor authentication enrollment required", RequiresInteractiveFallback: true},
	{Pattern: "unknown AccountType", Reason: "unknown account type", RequiresInteractiveFallback: true},
	{Pattern: "Server returned error in RSTR", Reason: "personal account", RequiresInteractiveFallback: true},
}

// An error response from Azure Active Directory.
//
// See https://www.rfc-editor.org/rfc/rfc6749#section-5.2 for OAuth 2.0 spec
// See https://learn.microsoft.com/en-us/azure/active-directory/develop/reference-aadsts-error-codes for AAD error codes
type AadErrorResponse struct {
	Error            string
	ErrorDescription string
	ErrorCodes       []int
	TraceId          string
	CorrelationId    string
}

func parseAadErrorResponse(body []byte) *AadErrorResponse {
	if !gjson.ValidBytes(body) {
		return nil
	}

	res := gjson.ParseBytes(body)
	if !res.Get("error").Exists() {
		return nil
	}

	parsed := &AadErrorResponse{
		Error:            res.Get("error").String(),
		ErrorDescription: res.Get("error_description").String(),
		TraceId:          res.Get("trace_id").String(),
		CorrelationId:    res.Get("correlation_id").String(),
	}
	for _, code := range res.Get("error_codes").Array() {
		parsed.ErrorCodes = append(parsed.ErrorCodes, int(code.Int()))
	}

	return parsed
}

// ClassifiedError annotates an authentication failure. Its message is always the message of Err.
type ClassifiedError struct {
	Err error
	// RequiresInteractiveFallback is advisory: the caller decides whether to retry interactively.
	RequiresInteractiveFallback bool
	Reason                      string
	// StatusCode is the HTTP status of the failed token request, or 0.
	StatusCode int
	// Response is the parsed identity provider error, when the failure carried one.
	Response *AadErrorResponse
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classifier matches failures against a fixed table of rules. The first matching rule wins.
type Classifier struct {
	rules []ClassificationRule
}

// NewClassifier creates a Classifier over rules. With no rules, [DefaultClassificationRules] is used.
func NewClassifier(rules ...ClassificationRule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultClassificationRules
	}

	return &Classifier{rules: rules}
}

// Classify annotates err. It returns nil for a nil error and returns err unchanged if it is already classified.
func (c *Classifier) Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	res := &ClassifiedError{Err: err}
	text := err.Error()

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			res.StatusCode = retrieveErr.Response.StatusCode
		}
		res.Response = parseAadErrorResponse(retrieveErr.Body)
		if res.Response != nil {
			text += "\n" + res.Response.ErrorDescription
		}
	}

	for _, rule := range c.rules {
		if strings.Contains(text, rule.Pattern) {
			res.RequiresInteractiveFallback = rule.RequiresInteractiveFallback
			res.Reason = rule.Reason
			break
		}
	}

	return res
}

// Classify annotates err with [DefaultClassificationRules].
func Classify(err error) *ClassifiedError {
	return NewClassifier().Classify(err)
}

// IsUnauthorized reports whether the identity provider rejected the credential itself.
func (e *ClassifiedError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		(e.Response != nil && (e.Response.Error == "invalid_client" || e.Response.Error == "invalid_grant"))
}
