package errors_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pwerrors "github.com/raiden-shogun/pwapi/pkg/errors"
)

func TestClassifyMapsSentinels(t *testing.T) {
	ec := pwerrors.NewErrorClassifier(slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))

	cases := []struct {
		err  error
		want pwerrors.ErrorClass
	}{
		{pwerrors.ErrNoCredentialForScope, pwerrors.ClassConfiguration},
		{pwerrors.ErrQuotaExhausted, pwerrors.ClassQuota},
		{pwerrors.ErrUpstreamThrottled, pwerrors.ClassThrottled},
		{pwerrors.ErrUpstreamUnavailable, pwerrors.ClassUnavailable},
		{pwerrors.ErrTransportFailure, pwerrors.ClassTransport},
		{pwerrors.ErrInvalidRequest, pwerrors.ClassValidation},
		{fmt.Errorf("unexpected"), pwerrors.ClassInternal},
	}
	for _, tc := range cases {
		classified := ec.Classify(tc.err, "fetch_nation")
		assert.Equal(t, tc.want, classified.Class, "for %v", tc.err)
		assert.NotEmpty(t, classified.ClientMessage)
		_ = ec.LogAndSanitize(context.Background(), classified)
	}
}

func TestClassifySeesThroughWrapping(t *testing.T) {
	ec := pwerrors.NewErrorClassifier(slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))

	wrapped := fmt.Errorf("dispatch abandoned: %w",
		fmt.Errorf("scope everything: %w", pwerrors.ErrQuotaExhausted))
	classified := ec.Classify(wrapped, "fetch_bulk")
	assert.Equal(t, pwerrors.ClassQuota, classified.Class)
	_ = ec.LogAndSanitize(context.Background(), classified)
}

func TestLogAndSanitizeStripsInternalDetail(t *testing.T) {
	var buf bytes.Buffer
	ec := pwerrors.NewErrorClassifier(slog.New(slog.NewTextHandler(&buf, nil)))

	internal := fmt.Errorf("credential everything-2 at https://api.example: %w",
		pwerrors.ErrUpstreamThrottled)
	out := ec.LogAndSanitize(context.Background(), ec.Classify(internal, "fetch_nation"))

	require.Error(t, out)
	assert.NotContains(t, out.Error(), "everything-2")
	assert.NotContains(t, out.Error(), "api.example")
	assert.Contains(t, buf.String(), "everything-2", "full detail still reaches the log")
}
