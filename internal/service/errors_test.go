package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{err: fmt.Errorf("%w: missing id", ErrInvalidInput), kind: KindValidation},
		{err: ErrNoSyllabus, kind: KindValidation},
		{err: ErrAssessmentHasNoSections, kind: KindValidation},
		{err: ErrSessionNotFound, kind: KindNotFound},
		{err: fmt.Errorf("load: %w", gorm.ErrRecordNotFound), kind: KindNotFound},
		{err: ErrJobNotFound, kind: KindNotFound},
		{err: ErrActiveSessionExists, kind: KindConflict},
		{err: fmt.Errorf("%w: expected 0", ErrSectionOutOfOrder), kind: KindConflict},
		{err: ErrSessionExpired, kind: KindConflict},
		{err: ErrCompletionConflict, kind: KindConflict},
		{err: ErrJobNotRetryable, kind: KindConflict},
		{err: gorm.ErrDuplicatedKey, kind: KindConflict},
		{err: fmt.Errorf("%w: timeout", ErrUpstream), kind: KindUpstream},
		{err: errors.New("connection reset"), kind: KindInfrastructure},
	}

	for _, tc := range cases {
		require.Equal(t, tc.kind, ErrorKind(tc.err), tc.err.Error())
	}
}

func TestMapSerialization(t *testing.T) {
	require.ErrorIs(t, mapSerialization(errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)")), ErrConcurrentUpdate)
	require.NoError(t, mapSerialization(nil))

	other := errors.New("other")
	require.Equal(t, other, mapSerialization(other))
}
