// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := fmerr.New(
		fmerr.CodeRoundSessionBusy,
		"session already has an active round",
		fmerr.FieldSessionID("sess-123"),
		fmerr.Field("round", 2),
	)

	require.Error(t, err)
	assert.Equal(t, fmerr.CodeRoundSessionBusy, fmerr.CodeOf(err))
	assert.True(t, fmerr.HasCode(err, fmerr.CodeRoundSessionBusy))

	fields := fmerr.FieldsOf(err)
	assert.Equal(t, "sess-123", fields["session_id"])
	assert.Equal(t, 2, fields["round"])
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := fmerr.Errorf(fmerr.CodeToolNotFound, "tool %q is not registered", "web_search")
	require.Error(t, err)
	assert.Equal(t, fmerr.CodeToolNotFound, fmerr.CodeOf(err))
	assert.Contains(t, err.Error(), `tool "web_search" is not registered`)
}

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("record missing")
	err := fmerr.Wrap(
		root,
		fmerr.CodeStoreSessionNotFound,
		"loading session",
		fmerr.FieldSessionID("sess-42"),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, fmerr.CodeStoreSessionNotFound, fmerr.CodeOf(err))
	assert.True(t, fmerr.IsNotFound(err))
	assert.Equal(t, "sess-42", fmerr.FieldsOf(err)["session_id"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, fmerr.Wrap(nil, fmerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, fmerr.Wrapf(nil, fmerr.CodeServerInternalFailure, "ignored %s", "arg"))
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := fmerr.New(fmerr.CodeProviderStreamTransient, "connection reset")
	withCtx := fmerr.With(base, fmerr.FieldProvider("openai"))

	require.Error(t, withCtx)
	assert.Equal(t, fmerr.CodeProviderStreamTransient, fmerr.CodeOf(withCtx))
	assert.Equal(t, "openai", fmerr.FieldsOf(withCtx)["provider"])
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", fmerr.New(fmerr.CodeStoreKeyNotFound, "missing"), fmerr.IsNotFound},
		{"conflict", fmerr.New(fmerr.CodeRoundSessionBusy, "busy"), fmerr.IsConflict},
		{"invalid input", fmerr.New(fmerr.CodeRoundInvalidInput, "bad"), fmerr.IsInvalidInput},
		{"forbidden", fmerr.New(fmerr.CodeRoundSessionInactive, "inactive"), fmerr.IsForbidden},
		{"balance", fmerr.New(fmerr.CodeBillingBalanceExceeded, "broke"), fmerr.IsBalanceExceeded},
		{"iteration cap", fmerr.New(fmerr.CodeRoundIterationCapped, "capped"), fmerr.IsBalanceExceeded},
		{"timeout", fmerr.New(fmerr.CodeToolTimeout, "slow"), fmerr.IsTimeout},
		{"transient", fmerr.New(fmerr.CodeProviderStreamTransient, "reset"), fmerr.IsTransient},
		{"upstream", fmerr.New(fmerr.CodeProviderUpstreamFailure, "502"), fmerr.IsUpstreamFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestClassifiersRejectPlainErrors(t *testing.T) {
	plain := stderrors.New("plain")
	assert.False(t, fmerr.IsNotFound(plain))
	assert.False(t, fmerr.IsTransient(plain))
	assert.Equal(t, fmerr.Code(""), fmerr.CodeOf(plain))
	assert.Nil(t, fmerr.FieldsOf(plain))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmerr.New(fmerr.CodeStoreSessionNotFound, "x"), http.StatusNotFound},
		{fmerr.New(fmerr.CodeRoundSessionBusy, "x"), http.StatusConflict},
		{fmerr.New(fmerr.CodeServerRequestInvalid, "x"), http.StatusBadRequest},
		{fmerr.New(fmerr.CodeRoundSessionInactive, "x"), http.StatusForbidden},
		{fmerr.New(fmerr.CodeBillingBalanceExceeded, "x"), http.StatusPaymentRequired},
		{fmerr.New(fmerr.CodeToolTimeout, "x"), http.StatusGatewayTimeout},
		{fmerr.New(fmerr.CodeProviderUpstreamFailure, "x"), http.StatusBadGateway},
		{fmerr.New(fmerr.CodeRoundFailure, "x"), http.StatusInternalServerError},
		{stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, fmerr.HTTPStatus(tt.err), "error: %v", tt.err)
	}
}
