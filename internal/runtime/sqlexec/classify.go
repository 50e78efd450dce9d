package sqlexec

import (
	"context"
	sterrors "errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oprelay/oprelay/internal/runtime"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
)

var _ runtime.Executor = (*PGExecutor)(nil)

// ClassifyError maps executor errors onto processing outcomes. Statement
// build failures and SQLSTATE classes that cannot succeed on replay
// (constraint violations, missing tables, bad values) are non-retryable;
// connection and resource errors are retryable. Unknown errors default to
// retryable so a transient fault is never silently dropped.
func ClassifyError(err error) runtime.Outcome {
	if err == nil {
		return runtime.OutcomeSuccess
	}

	if sterrors.Is(err, errspkg.ErrEmptyData) ||
		sterrors.Is(err, errspkg.ErrEmptyWhereClause) ||
		sterrors.Is(err, errspkg.ErrTableRequired) {
		return runtime.OutcomeNonRetryable
	}
	var verr *runtime.ValidationError
	if sterrors.As(err, &verr) {
		return runtime.OutcomeNonRetryable
	}

	var pgErr *pgconn.PgError
	if sterrors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	if sterrors.Is(err, context.Canceled) || sterrors.Is(err, context.DeadlineExceeded) {
		return runtime.OutcomeRetryable
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return runtime.OutcomeRetryable
	}

	return runtime.OutcomeRetryable
}

// classifySQLState decides by SQLSTATE class. Class 23 is integrity
// constraint violation, 42 is syntax error or access rule violation, 22 is
// data exception; replaying those reproduces the same failure. Class 08
// (connection exception), 53 (insufficient resources) and 57P (operator
// intervention, e.g. server shutdown) clear up once the server recovers.
func classifySQLState(code string) runtime.Outcome {
	switch {
	case strings.HasPrefix(code, "23"),
		strings.HasPrefix(code, "42"),
		strings.HasPrefix(code, "22"):
		return runtime.OutcomeNonRetryable
	case strings.HasPrefix(code, "08"),
		strings.HasPrefix(code, "53"),
		strings.HasPrefix(code, "57P"):
		return runtime.OutcomeRetryable
	default:
		return runtime.OutcomeRetryable
	}
}
