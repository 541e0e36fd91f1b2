package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeOrderNotFound, "order not found: %s", "abc-1")
	suite.NotNil(err)
	suite.Equal(ErrCodeOrderNotFound, err.Code)
	suite.Equal("order not found: abc-1", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeBrokerCall, "failed to fetch positions", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeBrokerCall, err.Code)
	suite.Equal("failed to fetch positions", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeHistoricalDataFailed, cause, "failed to fetch bars for %s", "TSLA")
	suite.NotNil(err)
	suite.Equal(ErrCodeHistoricalDataFailed, err.Code)
	suite.Equal("failed to fetch bars for TSLA", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeBarOutOfOrder, "bar not newer than last", cause)
	suite.Equal("[200] bar not newer than last: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeBrokerCall, "broker call failed", cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestUnwrapNil() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeBreakerOpen, "circuit breaker open")
	suite.Equal(ErrCodeBreakerOpen, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeOrderRejected, "order rejected")
	err := fmt.Errorf("placing bracket: %w", cause)
	suite.Equal(ErrCodeOrderRejected, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeUnknown() {
	err := errors.New("plain error")
	suite.Equal(ErrCodeUnknown, GetCode(err))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeRiskDenied, "risk denied")
	suite.True(HasCode(err, ErrCodeRiskDenied))
	suite.False(HasCode(err, ErrCodeOrderFailed))
}

func (suite *ErrorTestSuite) TestInsufficientDataError() {
	err := NewInsufficientDataErrorf(50, 12, "TSLA", "need %d bars, have %d", 50, 12)
	suite.Equal("need 50 bars, have 12", err.Error())
	suite.True(IsInsufficientDataError(err))
	suite.True(IsInsufficientDataError(fmt.Errorf("wrapped: %w", err)))
	suite.False(IsInsufficientDataError(errors.New("other")))
}
