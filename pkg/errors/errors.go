// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. Codes are dotted
// paths; the final segment is the reason and drives classification.
type Code string

const (
	CodeStoreSessionNotFound    Code = "store.session.get.not_found"
	CodeStoreMessageNotFound    Code = "store.message.get.not_found"
	CodeStoreAccountNotFound    Code = "store.account.get.not_found"
	CodeStoreKeyNotFound        Code = "store.kv.get.not_found"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"

	CodeConfigReadFailure  Code = "config.load.read.failure"
	CodeConfigInvalidValue Code = "config.validate.invalid_value"

	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderNoDefault       Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderKeyInvalid      Code = "provider.key.invalid_value"
	CodeProviderKeyCheckFailed  Code = "provider.key.check.failure"
	CodeProviderStreamTransient Code = "provider.stream.transient_failure"
	CodeProviderStreamExhausted Code = "provider.stream.retries_exhausted"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"

	CodeRoundInvalidInput    Code = "round.invalid_input"
	CodeRoundFailure         Code = "round.failure"
	CodeRoundSessionBusy     Code = "round.session.begin.conflict"
	CodeRoundSessionInactive Code = "round.session.state.forbidden"
	CodeRoundCancelled       Code = "round.session.cancelled"
	CodeRoundIterationCapped Code = "round.iteration.cap_exceeded"
	CodeRoundStreamTimeout   Code = "round.stream.timeout"
	CodeRoundNotPaused       Code = "round.resume.state.conflict"
	CodeRoundResumeMismatch  Code = "round.resume.correlation.invalid_input"

	CodeToolNotFound          Code = "tool.registry.not_found"
	CodeToolAlreadyRegistered Code = "tool.registry.conflict"
	CodeToolSchemaInvalid     Code = "tool.schema.invalid_value"
	CodeToolTimeout           Code = "tool.execute.timeout"

	CodeBillingBalanceExceeded Code = "billing.balance.exceeded"
	CodeBillingModelUnpriced   Code = "billing.cost.model.not_found"
	CodeBillingDeductFailure   Code = "billing.deduct.failure"

	CodeSecretsResolveFailure Code = "secrets.resolve.failure"
	CodeSecretNotFound        Code = "secrets.get.not_found"
	CodeSecretInvalidInput    Code = "secrets.invalid_input"
	CodeSecretStoreFailure    Code = "secrets.store.failure"
	CodeSecretDeleteFailure   Code = "secrets.delete.failure"
	CodeSecretListFailure     Code = "secrets.list.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr { return Field("session_id", value) }
func FieldMessageID(value string) Attr { return Field("message_id", value) }
func FieldOrgID(value string) Attr     { return Field("org_id", value) }
func FieldProvider(value string) Attr  { return Field("provider", value) }
func FieldTool(value string) Attr      { return Field("tool", value) }

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, preserving its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsForbidden(err error) bool {
	return reason(CodeOf(err)) == "forbidden"
}

func IsBalanceExceeded(err error) bool {
	r := reason(CodeOf(err))
	return r == "exceeded" || r == "cap_exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsTransient reports whether err is a retryable stream-level failure.
func IsTransient(err error) bool {
	return reason(CodeOf(err)) == "transient_failure"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsForbidden(err):
		return http.StatusForbidden
	case IsBalanceExceeded(err):
		return http.StatusPaymentRequired
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err) || IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
