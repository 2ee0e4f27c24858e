// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		interactive bool
	}{
		{"MfaRequired", errors.New("AADSTS50076: Application password is required."), true},
		{"MfaEnrollment", errors.New("AADSTS50079: The user is required to use multi-factor authentication."), true},
		{"UnknownAccountType", errors.New("Server returned an unknown AccountType: undefined"), true},
		{"PersonalAccount", errors.New("Server returned error in RSTR - ErrorCode: NONE : FaultMessage: NONE"), true},
		{"Wrapped", fmt.Errorf("signing in: %w", errors.New("AADSTS50076: mfa")), true},
		{"Unrelated", errors.New("some other error"), false},
		{"BadPassword", errors.New("AADSTS50126: Error validating credentials"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res := Classify(test.err)
			require.Equal(t, test.interactive, res.RequiresInteractiveFallback)
			require.Equal(t, test.err.Error(), res.Error())
			require.ErrorIs(t, res, test.err)
			if test.interactive {
				require.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	require.Nil(t, Classify(nil))
}

func TestClassifyIsIdempotent(t *testing.T) {
	first := Classify(errors.New("AADSTS50076: mfa"))
	wrapped := fmt.Errorf("outer: %w", first)
	require.Same(t, first, Classify(wrapped))
}

func TestClassifyRetrieveError(t *testing.T) {
	err := &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: http.StatusBadRequest},
		ErrorCode: "invalid_grant",
		Body: []byte(`{"error":"invalid_grant","error_description":"AADSTS50076: mfa required",` +
			`"error_codes":[50076],"trace_id":"t","correlation_id":"c"}`),
	}

	res := Classify(err)
	require.True(t, res.RequiresInteractiveFallback)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, &AadErrorResponse{
		Error:            "invalid_grant",
		ErrorDescription: "AADSTS50076: mfa required",
		ErrorCodes:       []int{50076},
		TraceId:          "t",
		CorrelationId:    "c",
	}, res.Response)
	require.Equal(t, err.Error(), res.Error())
}

func TestClassifyUnparsableBody(t *testing.T) {
	err := &oauth2.RetrieveError{
		Response: &http.Response{StatusCode: http.StatusBadGateway},
		Body:     []byte("<html>bad gateway</html>"),
	}

	res := Classify(err)
	require.False(t, res.RequiresInteractiveFallback)
	require.Nil(t, res.Response)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestCustomClassifier(t *testing.T) {
	c := NewClassifier(ClassificationRule{Pattern: "AADSTS90072", Reason: "guest", RequiresInteractiveFallback: true})

	require.True(t, c.Classify(errors.New("AADSTS90072: not in tenant")).RequiresInteractiveFallback)
	require.False(t, c.Classify(errors.New("AADSTS50076: mfa")).RequiresInteractiveFallback)
}
