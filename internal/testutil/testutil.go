package testutil

import (
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

// NopLogger satisfies logger.Logger for tests that don't assert on logs.
type NopLogger struct{}

func (NopLogger) Debug(msg string)                                  {}
func (NopLogger) Debugf(format string, args ...interface{})         {}
func (NopLogger) Info(msg string)                                   {}
func (NopLogger) Infof(format string, args ...interface{})          {}
func (NopLogger) Warn(msg string)                                   {}
func (NopLogger) Warnf(format string, args ...interface{})          {}
func (NopLogger) Error(msg string)                                  {}
func (NopLogger) Errorf(format string, args ...interface{})         {}
func (NopLogger) Fatal(msg string)                                  {}
func (NopLogger) Fatalf(format string, args ...interface{})         {}
func (NopLogger) Panic(msg string)                                  {}
func (NopLogger) Panicf(format string, args ...interface{})         {}
func (n NopLogger) WithField(string, interface{}) logger.Logger     { return n }
func (n NopLogger) WithFields(map[string]interface{}) logger.Logger { return n }

// Dec parses a decimal literal, panicking on malformed test input.
func Dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
